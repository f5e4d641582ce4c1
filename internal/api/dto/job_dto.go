package dto

import (
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

type ListJobsRequest struct {
	CourseID     string `form:"course_id"`
	FunctionName string `form:"function"`
	Status       string `form:"status" binding:"omitempty,oneof=queued running finished"`
	PageSize     int    `form:"page_size"`
	Cursor       string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	CourseID     string `json:"course_id"`
	FunctionName string `json:"function"`
	Description  string `json:"description"`
	Status       string `json:"status"`
	Failed       bool   `json:"failed"`
	Result       string `json:"result,omitempty"`
	Log          string `json:"log,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// NewJobDTO converts a job; the log is only included when withLog is set
func NewJobDTO(job *domain.Job, withLog bool) JobDTO {
	out := JobDTO{
		JobID:        job.ID,
		UserID:       job.UserID,
		CourseID:     job.CourseID,
		FunctionName: job.FunctionName,
		Description:  job.Description,
		Status:       string(job.Status),
		Failed:       job.Failed,
		Result:       job.Result,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
	if withLog {
		out.Log = job.Log
	}
	return out
}

type AutogradeRequest struct {
	BackupIDs []string `json:"backup_ids"`
}
