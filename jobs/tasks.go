package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionsPurge deletes expired login-session audit rows.
	TaskSessionsPurge = "auth:sessions:purge"
)

// SessionsPurgePayload carries options for a purge run.
type SessionsPurgePayload struct {
	// Grace keeps rows this long past their expiry.
	GraceSeconds int64 `json:"grace_seconds,omitempty"`
}

// NewSessionsPurgeTask constructs an Asynq task.
func NewSessionsPurgeTask(payload SessionsPurgePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsPurge, data, asynq.Queue(QueueDefault)), nil
}
