package iss

import (
	"encoding/json"
	"strconv"
	"time"
)

// table is one column-indexed block of an ISS payload:
// {"columns": ["LAST","BID"], "data": [[263.4, 263.2], ...]}.
// A block with no rows or no columns means "no data", never an error.
type table struct {
	cols map[string]int
	rows [][]any
}

type rawBlock struct {
	Columns []string `json:"columns"`
	Data    [][]any  `json:"data"`
}

func decodeTable(raw json.RawMessage) table {
	var b rawBlock
	if err := json.Unmarshal(raw, &b); err != nil {
		return table{}
	}
	t := table{cols: make(map[string]int, len(b.Columns)), rows: b.Data}
	for i, name := range b.Columns {
		t.cols[name] = i
	}
	return t
}

func (t table) empty() bool { return len(t.cols) == 0 || len(t.rows) == 0 }

func (t table) cell(row int, col string) any {
	i, ok := t.cols[col]
	if !ok || row >= len(t.rows) || i >= len(t.rows[row]) {
		return nil
	}
	return t.rows[row][i]
}

// float normalizes a cell to a number. JSON nulls, absent columns and
// non-numeric junk all come back as nil rather than zero.
func (t table) float(row int, col string) *float64 {
	switch v := t.cell(row, col).(type) {
	case float64:
		return &v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func (t table) str(row int, col string) string {
	if s, ok := t.cell(row, col).(string); ok {
		return s
	}
	return ""
}

// date parses an ISS date cell ("2025-12-18" or with a time suffix).
func (t table) date(row int, col string) *time.Time {
	s := t.str(row, col)
	if s == "" {
		return nil
	}
	if len(s) > 10 {
		s = s[:10]
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &d
}
