package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/txsuite/pipeline-be/internal/api/dto"
	"github.com/txsuite/pipeline-be/internal/model"
	"github.com/txsuite/pipeline-be/internal/storage"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	storage *storage.Storage
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		storage: deps.Storage,
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.storage.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.JobFilter{
		UserName: req.UserName,
		RepoName: req.RepoName,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.storage.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		cursorObj := storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.JobID,
		}
		nextCursor, err = EncodeJobCursor(&cursorObj)
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

func toJobDTO(job *model.Job) dto.JobDTO {
	d := dto.JobDTO{
		JobID:         job.JobID,
		Identifier:    job.Identifier,
		UserName:      job.UserName,
		RepoName:      job.RepoName,
		CommitID:      job.CommitID,
		ResourceType:  job.ResourceType,
		InputFormat:   job.InputFormat,
		OutputFormat:  job.OutputFormat,
		ConvertModule: job.ConvertModule,
		LintModule:    job.LintModule,
		State:         job.State,
		Status:        job.Status,
		Success:       job.Success,
		Message:       job.Message,
		Log:           job.Log,
		Warnings:      job.Warnings,
		Errors:        job.Errors,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		d.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.EndedAt != nil {
		d.EndedAt = job.EndedAt.Format(time.RFC3339)
	}
	return d
}
