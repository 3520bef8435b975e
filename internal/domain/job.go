package domain

import "time"

// JobState represents the lifecycle state of an execution job.
type JobState string

// Job lifecycle states. Done and Failed are terminal.
const (
	JobWaiting JobState = "waiting_in_queue"
	JobStarted JobState = "started"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobState) IsTerminal() bool {
	return s == JobDone || s == JobFailed
}

// Job stores durable state for one asynchronous execution of a fingerprint.
type Job struct {
	ID           string
	DataSourceID string
	QueryHash    string
	QueryText    string
	QueryID      *string
	Queue        string
	State        JobState
	Worker       *string
	Error        *string
	ResultID     *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time
}

// JobRequest describes a job to submit or join.
type JobRequest struct {
	DataSourceID string
	QueryHash    string
	QueryText    string
	QueryID      *string
	Queue        string
}

// Validate checks that the request is well-formed.
func (r *JobRequest) Validate() error {
	if r.DataSourceID == "" {
		return ErrValidation("data source is required")
	}
	if r.QueryHash == "" {
		return ErrValidation("query hash is required")
	}
	if r.Queue == "" {
		return ErrValidation("queue name is required")
	}
	return nil
}

// QueuedTask is one waiting or running job as reported by queue status.
type QueuedTask struct {
	ID           string     `json:"task_id"`
	State        JobState   `json:"state"`
	Queue        string     `json:"queue"`
	DataSourceID string     `json:"data_source_id"`
	QueryHash    string     `json:"query_hash"`
	Worker       *string    `json:"worker"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"start_time"`
}

// QueueStatus is a snapshot of outstanding work on one queue.
type QueueStatus struct {
	Queue    string       `json:"queue"`
	NumTasks int          `json:"num_tasks"`
	Tasks    []QueuedTask `json:"tasks"`
}
