package domain

import "time"

// Default queue names. Data sources may override them.
const (
	DefaultQueueName          = "queries"
	DefaultScheduledQueueName = "scheduled_queries"
)

// Data source engine types understood by the runner registry.
const (
	DataSourceTypeDuckDB = "duckdb"
	DataSourceTypeSQLite = "sqlite"
)

// DataSource is a registered query target.
//
// Access is granted through group membership. ViewOnly restricts execution to
// queries whose parameters are all of safe types; Paused refuses execution
// entirely while leaving cached results readable.
type DataSource struct {
	ID                 string
	Name               string
	Type               string
	Options            string // driver-specific DSN or path
	Groups             []string
	ViewOnly           bool
	Paused             bool
	PauseReason        string
	QueueName          string
	ScheduledQueueName string
	CreatedAt          time.Time
}

// Queue returns the queue a job should be placed on.
func (d *DataSource) Queue(scheduled bool) string {
	if scheduled {
		if d.ScheduledQueueName != "" {
			return d.ScheduledQueueName
		}
		return DefaultScheduledQueueName
	}
	if d.QueueName != "" {
		return d.QueueName
	}
	return DefaultQueueName
}

// CreateDataSourceRequest holds parameters for registering a data source.
type CreateDataSourceRequest struct {
	Name               string
	Type               string
	Options            string
	Groups             []string
	ViewOnly           bool
	QueueName          string
	ScheduledQueueName string
}

// Validate checks that the request is well-formed.
func (r *CreateDataSourceRequest) Validate() error {
	if r.Name == "" {
		return ErrValidation("data source name is required")
	}
	switch r.Type {
	case DataSourceTypeDuckDB, DataSourceTypeSQLite:
	case "":
		return ErrValidation("data source type is required")
	default:
		return ErrValidation("unsupported data source type %q", r.Type)
	}
	return nil
}
