package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGrantSweep removes expired role assignments and direct grants.
	TaskGrantSweep = "rbac:grant_sweep"
)

// GrantSweepPayload describes the cutoff for the sweep. A zero Before means
// "now at execution time".
type GrantSweepPayload struct {
	Before time.Time `json:"before"`
}

// NewGrantSweepTask constructs an Asynq task.
func NewGrantSweepTask(payload GrantSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGrantSweep, data), nil
}
