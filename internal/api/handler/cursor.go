package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/execution"
)

// ErrInvalidCursor is returned for a page token the API did not issue
var ErrInvalidCursor = errors.New("invalid cursor")

// pageToken is the opaque next_cursor value: base64url JSON of the last row's sort key
type pageToken struct {
	CreatedAt time.Time `json:"t"`
	JobID     string    `json:"id"`
}

// DecodeJobCursor parses a next_cursor value. An empty string means the first page.
func DecodeJobCursor(token string) (*execution.Cursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if pt.JobID == "" || pt.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: missing sort key", ErrInvalidCursor)
	}

	return &execution.Cursor{CreatedAt: pt.CreatedAt.UTC(), JobID: pt.JobID}, nil
}

// EncodeJobCursor builds the next_cursor value that resumes after c
func EncodeJobCursor(c *execution.Cursor) string {
	// Marshalling a time and a string cannot fail
	raw, _ := json.Marshal(pageToken{CreatedAt: c.CreatedAt.UTC(), JobID: c.JobID})
	return base64.RawURLEncoding.EncodeToString(raw)
}
