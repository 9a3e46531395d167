package models

import "time"

// WebhookEvent represents the payload sent to webhooks
type WebhookEvent struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventRunCompleted        = "run.completed"
	WebhookEventRunFailed           = "run.failed"
	WebhookEventGenerationCompleted = "generation.completed"
	WebhookEventGenerationFailed    = "generation.failed"
)

// UploadRequest is handed to the upload collaborator once a file is ready
type UploadRequest struct {
	ID        string    `json:"id"`
	MediaPath string    `json:"media_path"`
	ObjectKey string    `json:"object_key,omitempty"`
	URL       string    `json:"url,omitempty"`
	Caption   string    `json:"caption"`
	Tags      []string  `json:"tags,omitempty"`
	Platform  string    `json:"platform"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	CreatedAt time.Time `json:"created_at"`
}
