package engine

import (
	"database/sql"
	"strings"

	"querydesk/internal/domain"
)

// scanData materializes rows into a column schema plus keyed rows.
func scanData(rows *sql.Rows) (*domain.ResultData, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	columns := make([]domain.Column, len(types))
	for i, ct := range types {
		columns[i] = domain.Column{
			Name:         ct.Name(),
			Type:         strings.ToLower(ct.DatabaseTypeName()),
			FriendlyName: ct.Name(),
		}
	}

	data := &domain.ResultData{Columns: columns, Rows: []domain.Row{}}
	for rows.Next() {
		vals := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(domain.Row, len(columns))
		for i, v := range vals {
			// Convert byte slices to strings for JSON serialization
			if b, ok := v.([]byte); ok {
				row[columns[i].Name] = string(b)
			} else {
				row[columns[i].Name] = v
			}
		}
		data.Rows = append(data.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return data, nil
}
