package worker

import (
	"time"

	"ledgerlens/internal/invoice"
)

// JobState is the lifecycle of one queued analysis.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is one unit of work for the pool: an analysis request plus its id.
// A zero-value job with stop set tells a worker to retire.
type Job struct {
	ID      string
	Request invoice.AnalyzeRequest
	stop    bool
}

// JobStatus is what callers poll while an analysis runs and read when it
// finishes.
type JobStatus struct {
	ID         string            `json:"id"`
	State      JobState          `json:"state"`
	Error      string            `json:"error,omitempty"`
	Analysis   *invoice.Analysis `json:"analysis,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	StartedAt  time.Time         `json:"started_at,omitzero"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
}
