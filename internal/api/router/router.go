package router

import (
	"net/http"

	"github.com/cuongbtq/grading-coordinator/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "grading-api-service",
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "grading-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	gradingHandler := handler.NewGradingHandler(deps)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/scores - Autograder score callback, bearer token auth
		v1.POST("/scores", gradingHandler.PostScore)

		user := v1.Group("", UserMiddleware())

		jobs := user.Group("/jobs")
		{
			// GET /api/v1/jobs - List the caller's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details with its log
			jobs.GET("/:job_id", jobHandler.GetJob)
		}

		assignments := user.Group("/assignments/:assignment_id")
		{
			// POST /api/v1/assignments/:assignment_id/autograde - Start an autograding job
			assignments.POST("/autograde", jobHandler.Autograde)

			// POST /api/v1/assignments/:assignment_id/tasks - Assign backups to graders
			assignments.POST("/tasks", gradingHandler.CreateTasks)

			// GET /api/v1/assignments/:assignment_id/tasks - Grader queues
			assignments.GET("/tasks", gradingHandler.ListTasks)

			// GET /api/v1/assignments/:assignment_id/tasks/next - Oldest open task of a grader
			assignments.GET("/tasks/next", gradingHandler.NextTask)
		}

		// POST /api/v1/tasks/:task_id/score - Score a task
		user.POST("/tasks/:task_id/score", gradingHandler.ScoreTask)

		// GET /api/v1/backups/:backup_id/scores - Scores of a backup
		user.GET("/backups/:backup_id/scores", gradingHandler.ListScores)
	}

	return r
}
