// Package queue connects the job runner to the message brokers. Both
// backends carry the same JSON-encoded job message.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

// ContentType of every job message body
const ContentType = "application/json"

// Encode serializes a job message
func Encode(msg *domain.JobMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job message: %w", err)
	}
	return body, nil
}

// Decode parses a job message and checks it names a job and a function
func Decode(body []byte) (*domain.JobMessage, error) {
	var msg domain.JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode job message: %w", err)
	}
	if msg.JobID == "" {
		return nil, fmt.Errorf("job message has no job_id")
	}
	if msg.Function == "" {
		return nil, fmt.Errorf("job message %s has no function", msg.JobID)
	}
	return &msg, nil
}
