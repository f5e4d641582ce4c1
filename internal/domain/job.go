package domain

import (
	"encoding/json"
	"time"
)

// JobStatus is the lifecycle state of a background job. It only moves
// forward: queued -> running -> finished.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
)

// Job is the durable record of one background operation
type Job struct {
	ID             string    `db:"id" json:"id"`
	Status         JobStatus `db:"status" json:"status"`
	UserID         string    `db:"user_id" json:"user_id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	FunctionName   string    `db:"function_name" json:"function_name"`
	Description    string    `db:"description" json:"description"`
	Failed         bool      `db:"failed" json:"failed"`
	Log            string    `db:"log" json:"log"`
	Result         string    `db:"result" json:"result"`
	TimeoutSeconds int       `db:"timeout_seconds" json:"timeout_seconds"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// JobMessage is what travels through the queue backend
type JobMessage struct {
	JobID          string          `json:"job_id"`
	Function       string          `json:"function"`
	Args           json.RawMessage `json:"args,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
}

// Timeout returns the execution timeout carried by the message
func (m *JobMessage) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}
