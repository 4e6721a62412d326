package domain

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

type WebhookStatus string

const (
	WebhookPending WebhookStatus = "pending"
	WebhookSuccess WebhookStatus = "success"
	WebhookFailed  WebhookStatus = "failed"
)

type Job struct {
	ID            int64           `json:"id"`
	TaskName      string          `json:"taskName"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      string          `json:"priority"`
	Status        Status          `json:"status"`
	WebhookStatus WebhookStatus   `json:"webhookStatus"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	// RunDueAt is the deadline by which a running job must have completed.
	// Set when the job is claimed for a run, cleared on completion.
	RunDueAt *time.Time `json:"-"`
}

// Notification is the body POSTed to the webhook when a job completes.
type Notification struct {
	JobID       int64           `json:"jobId"`
	TaskName    string          `json:"taskName"`
	Status      Status          `json:"status"`
	Priority    string          `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	CompletedAt time.Time       `json:"completedAt"`
}
