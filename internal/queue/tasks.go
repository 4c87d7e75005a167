package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeValidate  = "quest:validate"
	TypeMint      = "quest:mint"
	TypeMintNotes = "quest:mint_notes"
)

// StagePayload is the opaque payload handed to the task runner. The same
// shape serves all three stages; stage-specific fields are simply unused
// by the others.
type StagePayload struct {
	JobID       string    `json:"job_id"`
	CastHash    string    `json:"cast_hash"`
	FID         int64     `json:"fid"`
	Text        string    `json:"text,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	Label       string    `json:"label,omitempty"`
	CallbackURL string    `json:"callback_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewStageTask(taskType string, payload StagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal stage payload: %w", err)
	}
	return asynq.NewTask(taskType, body), nil
}

func ParseStagePayload(task *asynq.Task) (StagePayload, error) {
	var payload StagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return StagePayload{}, fmt.Errorf("unmarshal stage payload: %w", err)
	}
	return payload, nil
}
