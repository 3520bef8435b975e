package domain

import "time"

// Column describes one entry of a result's column schema.
type Column struct {
	Name         string `json:"name"`
	Type         string `json:"type,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Row is a single result row. Rows may omit columns present in the schema.
type Row map[string]any

// ResultData is the column schema plus the row set of an execution.
type ResultData struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// ColumnNames returns the schema column names in order.
func (d ResultData) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Result is an immutable cached execution outcome keyed by fingerprint.
type Result struct {
	ID           string
	DataSourceID string
	QueryHash    string
	QueryText    string
	Data         ResultData
	Runtime      time.Duration
	RetrievedAt  time.Time
}
