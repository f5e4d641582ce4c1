package dto

import (
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
)

type CreateTasksRequest struct {
	BackupIDs []string `json:"backup_ids" binding:"required,min=1"`
	GraderIDs []string `json:"grader_ids" binding:"required,min=1"`
	Kind      string   `json:"kind" binding:"required,max=32"`
}

type CreateTasksResponse struct {
	Tasks []TaskDTO `json:"tasks"`
}

type ListTasksRequest struct {
	GraderID string `form:"grader_id"`
}

type ListTasksResponse struct {
	Tasks  []TaskDTO  `json:"tasks"`
	Queues []QueueDTO  `json:"queues"`
}

type TaskDTO struct {
	TaskID       string `json:"task_id"`
	AssignmentID string `json:"assignment_id"`
	BackupID     string `json:"backup_id"`
	GraderID     string `json:"grader_id"`
	Kind         string `json:"kind"`
	ScoreID      string `json:"score_id,omitempty"`
	Complete     bool   `json:"complete"`
	CreatedAt    string `json:"created_at"`
}

func NewTaskDTO(t *domain.GradingTask) TaskDTO {
	out := TaskDTO{
		TaskID:       t.ID,
		AssignmentID: t.AssignmentID,
		BackupID:     t.BackupID,
		GraderID:     t.GraderID,
		Kind:         t.Kind,
		Complete:     t.IsComplete(),
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
	if t.ScoreID != nil {
		out.ScoreID = *t.ScoreID
	}
	return out
}

func NewTaskDTOs(tasks []domain.GradingTask) []TaskDTO {
	out := make([]TaskDTO, len(tasks))
	for i := range tasks {
		out[i] = NewTaskDTO(&tasks[i])
	}
	return out
}

type QueueDTO struct {
	GraderID    string `json:"grader_id"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	Outstanding int    `json:"outstanding"`
}

func NewQueueDTOs(queues []domain.GraderQueue) []QueueDTO {
	out := make([]QueueDTO, len(queues))
	for i, q := range queues {
		out[i] = QueueDTO{
			GraderID:    q.GraderID,
			Completed:   q.Completed,
			Total:       q.Total,
			Outstanding: q.Outstanding(),
		}
	}
	return out
}

// ScoreTaskRequest uses a pointer so that a zero score is accepted
type ScoreTaskRequest struct {
	Score   *float64 `json:"score" binding:"required"`
	Message string   `json:"message"`
}

type ScoreTaskResponse struct {
	Task  TaskDTO  `json:"task"`
	Score ScoreDTO `json:"score"`
}

// PostScoreRequest is the body the autograder posts back. Field names follow
// the autograder's callback format.
type PostScoreRequest struct {
	BackupID string   `json:"bid" binding:"required"`
	Score    *float64 `json:"score" binding:"required"`
	Kind     string   `json:"kind" binding:"required,max=32"`
	Message  string   `json:"message"`
}

type ScoreDTO struct {
	ScoreID      string  `json:"score_id"`
	BackupID     string  `json:"backup_id"`
	AssignmentID string  `json:"assignment_id"`
	UserID       string  `json:"user_id"`
	GraderID     string  `json:"grader_id"`
	Kind         string  `json:"kind"`
	Score        float64 `json:"score"`
	Message      string  `json:"message"`
	Public       bool    `json:"public"`
	Archived     bool    `json:"archived"`
	CreatedAt    string  `json:"created_at"`
}

func NewScoreDTO(s *domain.Score) ScoreDTO {
	return ScoreDTO{
		ScoreID:      s.ID,
		BackupID:     s.BackupID,
		AssignmentID: s.AssignmentID,
		UserID:       s.UserID,
		GraderID:     s.GraderID,
		Kind:         s.Kind,
		Score:        s.Value,
		Message:      s.Message,
		Public:       s.Public,
		Archived:     s.Archived,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
	}
}

type ListScoresRequest struct {
	Kind    string `form:"kind"`
	History bool   `form:"history"`
}

type ListScoresResponse struct {
	Scores []ScoreDTO `json:"scores"`
}
