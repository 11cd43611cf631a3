package ports

import "context"

// Job is a unit execution request handed to the task queue. Jobs are fully
// serializable: units are referenced by registry name so a worker in another
// process can resolve them.
type Job struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	SessionID string         `json:"session_id"`
	Unit      string         `json:"unit"`
	Data      map[string]any `json:"data"`
}

// Result is the completion notification for a job. Err is the empty string
// on success.
type Result struct {
	JobID     string `json:"job_id"`
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Unit      string `json:"unit"`
	Output    string `json:"output"`
	Err       string `json:"err,omitempty"`
}

// Failed reports whether the job failed.
func (r Result) Failed() bool { return r.Err != "" }

// JobHandler executes a job's unit and returns its output. The executor
// provides the handler; queue implementations call it from their workers.
type JobHandler func(ctx context.Context, job Job) (string, error)

// TaskQueue is the asynchronous execution transport. Enqueue returns as soon
// as the job is accepted; completion is delivered on Results. The queue's
// internal scheduling is its own concern.
type TaskQueue interface {
	// Enqueue submits a job for execution.
	Enqueue(ctx context.Context, job Job) error

	// Results delivers completion notifications. The channel is shared by
	// all jobs; consumers correlate by Result.JobID.
	Results() <-chan Result

	// Close stops the queue's workers and closes the results channel.
	Close() error
}
