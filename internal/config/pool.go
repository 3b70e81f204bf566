package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Pool is the contract allowlist used in stream mode: only contracts named
// here may be associated with an underlying. An empty pool allows everything.
// Backed by a flat text file, one contract id per line, '#' starts a comment.
type Pool struct {
	mu    sync.RWMutex
	path  string
	items []string
}

func LoadPool(path string) (*Pool, error) {
	p := &Pool{path: path}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil // absent file means an open pool
		}
		return nil, err
	}
	for _, line := range strings.Split(string(b), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		p.items = append(p.items, s)
	}
	return p, nil
}

func (p *Pool) Items() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.items))
	copy(out, p.items)
	return out
}

// Contains reports whether sec is allowed. An empty pool admits everything.
func (p *Pool) Contains(sec string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.items) == 0 {
		return true
	}
	for _, it := range p.items {
		if it == sec {
			return true
		}
	}
	return false
}

// Replace swaps the pool contents and persists them to the backing file.
func (p *Pool) Replace(items []string) error {
	clean := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			clean = append(clean, s)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = clean
	if p.path == "" {
		return nil
	}
	body := strings.Join(clean, "\n")
	if body != "" {
		body += "\n"
	}
	if err := os.WriteFile(p.path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write pool file: %w", err)
	}
	return nil
}
