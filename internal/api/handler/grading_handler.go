package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/grading-coordinator/internal/api/dto"
	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/grading"
	"github.com/gin-gonic/gin"
)

// CreateTasks handles POST /api/v1/assignments/:assignment_id/tasks
// Splits the backups evenly across the graders
func (h *GradingHandler) CreateTasks(c *gin.Context) {
	var req dto.CreateTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	assignment := requireStaff(c, h.store, h.logger)
	if assignment == nil {
		return
	}

	tasks, err := h.tasks.CreateStaffTasks(c.Request.Context(), req.BackupIDs, req.GraderIDs, assignment.ID, assignment.CourseID, req.Kind)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateTasksResponse{Tasks: dto.NewTaskDTOs(tasks)})
}

// ListTasks handles GET /api/v1/assignments/:assignment_id/tasks
// Returns every grader's queue, plus one grader's tasks when grader_id is set
func (h *GradingHandler) ListTasks(c *gin.Context) {
	var req dto.ListTasksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	assignment := requireStaff(c, h.store, h.logger)
	if assignment == nil {
		return
	}

	ctx := c.Request.Context()
	queues, err := h.tasks.GetStaffTasks(ctx, assignment.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := dto.ListTasksResponse{
		Tasks:  []dto.TaskDTO{},
		Queues: dto.NewQueueDTOs(queues),
	}
	if req.GraderID != "" {
		tasks, err := h.tasks.ListTasks(ctx, assignment.ID, req.GraderID)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		resp.Tasks = dto.NewTaskDTOs(tasks)
	}

	c.JSON(http.StatusOK, resp)
}

// NextTask handles GET /api/v1/assignments/:assignment_id/tasks/next
func (h *GradingHandler) NextTask(c *gin.Context) {
	assignment := requireStaff(c, h.store, h.logger)
	if assignment == nil {
		return
	}

	graderID := c.DefaultQuery("grader_id", currentUser(c))

	task, err := h.tasks.GetNextTask(c.Request.Context(), graderID, assignment.ID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, dto.NewTaskDTO(task))
}

// ScoreTask handles POST /api/v1/tasks/:task_id/score
// Only the assigned grader may score a task
func (h *GradingHandler) ScoreTask(c *gin.Context) {
	var req dto.ScoreTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	task, score, err := h.tasks.CompleteTask(c.Request.Context(), c.Param("task_id"), currentUser(c), *req.Score, req.Message)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.ScoreTaskResponse{
		Task:  dto.NewTaskDTO(task),
		Score: dto.NewScoreDTO(score),
	})
}

// PostScore handles POST /api/v1/scores
// Autograder callback authenticated by the bearer token minted at dispatch
func (h *GradingHandler) PostScore(c *gin.Context) {
	raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "missing bearer token",
		})
		return
	}

	ctx := c.Request.Context()
	token, err := h.tokens.Verify(ctx, raw)
	if err != nil {
		h.logger.Warn("Rejected score callback", slog.Any("error", err))
		writeError(c, h.logger, err)
		return
	}

	var req dto.PostScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	score, err := h.ledger.Record(ctx, grading.NewScore{
		BackupID: req.BackupID,
		GraderID: token.UserID,
		Kind:     req.Kind,
		Value:    *req.Score,
		Message:  req.Message,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewScoreDTO(score))
}

// ListScores handles GET /api/v1/backups/:backup_id/scores
// Live scores by default, the full history of a kind with history=true
func (h *GradingHandler) ListScores(c *gin.Context) {
	var req dto.ListScoresRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	ctx := c.Request.Context()
	backup, err := h.store.GetBackup(ctx, c.Param("backup_id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if backup.SubmitterID != currentUser(c) {
		assignment, err := h.store.GetAssignment(ctx, backup.AssignmentID)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		staff, err := h.store.IsStaff(ctx, assignment.CourseID, currentUser(c))
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		if !staff {
			writeError(c, h.logger, domain.ErrNotStaff)
			return
		}
	}

	var scores []domain.Score
	if req.History {
		scores, err = h.ledger.ScoreHistory(ctx, backup.ID, req.Kind)
	} else {
		scores, err = h.ledger.CurrentScores(ctx, backup.ID)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	out := make([]dto.ScoreDTO, 0, len(scores))
	for i := range scores {
		if req.Kind != "" && scores[i].Kind != req.Kind {
			continue
		}
		out = append(out, dto.NewScoreDTO(&scores[i]))
	}

	c.JSON(http.StatusOK, dto.ListScoresResponse{Scores: out})
}
