package model

import "strings"

// SourceRow is one row of a spreadsheet range. Cells may be fewer than the
// header when trailing cells are empty.
type SourceRow struct {
	Sheet  string   // Sheet/tab the row was read from
	Number int      // 1-based row number in the sheet
	Cells  []string // Raw cell values in column order
}

// Col returns the cell at idx, or "" when the row is shorter than idx.
func (r SourceRow) Col(idx int) string {
	if idx < 0 || idx >= len(r.Cells) {
		return ""
	}
	return r.Cells[idx]
}

// IsBlank reports whether every cell in the row is empty after trimming.
func (r SourceRow) IsBlank() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Record is a normalized source record ready for identity resolution.
// Fields holds the payload sent to the ERP; Extra holds values consumed by
// dependent creates and link resolution but never sent on the primary document.
type Record struct {
	Dataset string
	Key     string
	Sheet   string
	Row     int
	Fields  map[string]any
	Extra   map[string]any
}

// String returns the field as a string, or "" when absent or not a string.
func (r Record) String(field string) string {
	if v, ok := r.Fields[field].(string); ok {
		return v
	}
	if v, ok := r.Extra[field].(string); ok {
		return v
	}
	return ""
}

// RemoteRecord is the state of a document in the ERP as known to this run.
type RemoteRecord struct {
	Name      string         // Remote-assigned identifier
	Key       string         // Natural key the record was indexed under
	DocStatus int            // 0 draft, 1 submitted, 2 cancelled
	Fields    map[string]any // Last known field values
}

// Submitted reports whether the document left the draft state.
func (r RemoteRecord) Submitted() bool {
	return r.DocStatus > 0
}

// Dependent is a child document created after its parent, linked by name.
type Dependent struct {
	Doctype string
	Label   string
	Fields  map[string]any
}
