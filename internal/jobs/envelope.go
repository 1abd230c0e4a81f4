package jobs

import (
	"encoding/json"
	"time"
)

// Envelope is the message published to the queue and delivered as the
// worker request body
type Envelope struct {
	JobID    string          `json:"jobId"`
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Metadata Metadata        `json:"metadata"`
}

// Metadata carries attribution for an enqueued job
type Metadata struct {
	CreatedAt      time.Time `json:"createdAt"`
	UserID         string    `json:"userId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
}
