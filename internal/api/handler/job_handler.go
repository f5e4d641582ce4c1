package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/grading-coordinator/internal/api/dto"
	"github.com/cuongbtq/grading-coordinator/internal/autograder"
	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/jobrunner"
	"github.com/cuongbtq/grading-coordinator/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// GetJob handles GET /api/v1/jobs/:job_id
// Visible to the user who started the job and to course staff
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	ctx := c.Request.Context()
	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if job.UserID != currentUser(c) {
		staff, err := h.store.IsStaff(ctx, job.CourseID, currentUser(c))
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		if !staff {
			// same answer as a missing job
			writeError(c, h.logger, domain.ErrJobNotFound)
			return
		}
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job, true))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs, newest first, with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Debug("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		UserID:       currentUser(c),
		CourseID:     req.CourseID,
		FunctionName: req.FunctionName,
		Status:       req.Status,
		PageSize:     req.PageSize,
		Cursor:       cursor,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i], false)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// Autograde handles POST /api/v1/assignments/:assignment_id/autograde
// Starts a background job autograding the final submissions, or the given
// backups when the body lists any
func (h *JobHandler) Autograde(c *gin.Context) {
	var req dto.AutogradeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	assignment := requireStaff(c, h.store, h.logger)
	if assignment == nil {
		return
	}
	if assignment.AutogradingKey == "" {
		writeError(c, h.logger, fmt.Errorf("%w: %s", domain.ErrNoAutogradingKey, assignment.Name))
		return
	}

	enqueue := jobrunner.EnqueueRequest{
		UserID:      currentUser(c),
		CourseID:    assignment.CourseID,
		Function:    autograder.FuncAutogradeAssignment,
		Description: fmt.Sprintf("Autograde %s", assignment.Name),
		Args:        autograder.AssignmentArgs{AssignmentID: assignment.ID},
	}
	if len(req.BackupIDs) > 0 {
		enqueue.Function = autograder.FuncAutogradeBackups
		enqueue.Description = fmt.Sprintf("Autograde %d backups of %s", len(req.BackupIDs), assignment.Name)
		enqueue.Args = autograder.BackupsArgs{AssignmentID: assignment.ID, BackupIDs: req.BackupIDs}
	}

	job, err := h.jobs.Enqueue(c.Request.Context(), enqueue)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	h.logger.Info("Autograde job enqueued",
		slog.String("job_id", job.ID),
		slog.String("assignment_id", assignment.ID),
		slog.String("status", string(job.Status)),
	)

	c.JSON(http.StatusAccepted, dto.NewJobDTO(job, job.Failed))
}
