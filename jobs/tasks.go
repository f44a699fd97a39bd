package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLetteringRecompute runs the lettering allocator over every group,
	// or over a single group when the payload names one.
	TaskLetteringRecompute = "lettering:recompute"
	// TaskGLIntegrity re-checks the debit/credit balance of posted entries.
	TaskGLIntegrity = "gl:integrity"
)

// LetteringRecomputePayload scopes a recomputation run. An empty LetterRef
// means the full pass.
type LetteringRecomputePayload struct {
	LetterRef string `json:"letter_ref,omitempty"`
}

// NewLetteringRecomputeTask constructs the recomputation task.
func NewLetteringRecomputeTask(letterRef string) (*asynq.Task, error) {
	data, err := json.Marshal(LetteringRecomputePayload{LetterRef: letterRef})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLetteringRecompute, data, asynq.Queue(QueueDefault)), nil
}

// GLIntegrityPayload bounds the entry window to re-check. Zero values fall
// back to the trailing month.
type GLIntegrityPayload struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// NewGLIntegrityTask constructs the integrity-check task.
func NewGLIntegrityTask(from, to time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(GLIntegrityPayload{From: from, To: to})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data, asynq.Queue(QueueDefault)), nil
}
