package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which generation provider binding a task uses.
type JobType string

const (
	JobTypeClip     JobType = "clip"     // short clip synthesis
	JobTypeFilm     JobType = "film"     // long-form synthesis with quality/duration tiers
	JobTypeImage    JobType = "image"    // image synthesis with quantity
	JobTypeRestyle  JobType = "restyle"  // video-to-video restyling
	JobTypeDescribe JobType = "describe" // prompt reverse-engineering
)

// Task lifecycle. pending -> processing -> completed|failed, terminal states final.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

type GenerationTask struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	JobType         JobType         `json:"job_type"`
	Status          string          `json:"status"`
	CreditsCost     int             `json:"credits_cost"`
	InputPayload    json.RawMessage `json:"input_payload"`
	ExternalTaskID  *string         `json:"external_task_id,omitempty"`
	ResultURLs      []string        `json:"result_urls,omitempty"`
	ResultText      *string         `json:"result_text,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	DurationSeconds *int            `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsTerminal reports whether no further status transitions may occur.
func (t *GenerationTask) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
