package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brandguard/backend/internal/domain/audit"
	"github.com/brandguard/backend/internal/http/response"
	"github.com/brandguard/backend/internal/jobs"
	"github.com/brandguard/backend/internal/platform/logger"
	"github.com/brandguard/backend/internal/repos"
)

const historyDefaultLimit = 20
const historyMaxLimit = 100

type AuditHandler struct {
	log      *logger.Logger
	runner   *jobs.Runner
	registry *jobs.Registry
	repo     repos.AuditTaskRepo
}

func NewAuditHandler(baseLog *logger.Logger, runner *jobs.Runner, registry *jobs.Registry, repo repos.AuditTaskRepo) *AuditHandler {
	return &AuditHandler{
		log:      baseLog.With("handler", "AuditHandler"),
		runner:   runner,
		registry: registry,
		repo:     repo,
	}
}

type submitAuditRequest struct {
	VideoURL string `json:"video_url"`
	Region   string `json:"region"`
}

// POST /api/audit
func (h *AuditHandler) Submit(c *gin.Context) {
	var req submitAuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	videoURL := strings.TrimSpace(req.VideoURL)
	if err := validateVideoURL(videoURL); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_video_url", err)
		return
	}

	region := audit.RegionGlobal
	if raw := strings.TrimSpace(req.Region); raw != "" {
		parsed, ok := audit.ParseRegion(raw)
		if !ok {
			response.RespondError(c, http.StatusBadRequest, "invalid_region",
				fmt.Errorf("unknown region %q", raw))
			return
		}
		region = parsed
	}

	task, err := h.runner.Submit(c.Request.Context(), videoURL, region)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

// GET /api/audit/:task_id
func (h *AuditHandler) GetStatus(c *gin.Context) {
	taskID, err := uuid.Parse(c.Param("task_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_task_id", fmt.Errorf("invalid task id"))
		return
	}

	task, ok := h.registry.Get(taskID)
	if !ok {
		// Tasks from before the last restart only exist in the database.
		if h.repo != nil {
			row, err := h.repo.GetByID(c.Request.Context(), nil, taskID)
			if err != nil {
				h.log.Warn("Status DB read failed", "task_id", taskID.String(), "error", err.Error())
			} else if row != nil {
				response.RespondOK(c, row.ToDomain())
				return
			}
		}
		respondDomainError(c, &audit.NotFoundError{TaskID: taskID.String()})
		return
	}
	response.RespondOK(c, task)
}

// GET /api/audit/history?limit=N
func (h *AuditHandler) History(c *gin.Context) {
	limit := historyDefaultLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit",
				fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	tasks := h.registry.List(limit)

	// Tasks from before the last restart only exist in the database.
	if h.repo != nil && len(tasks) < limit {
		seen := map[uuid.UUID]struct{}{}
		for _, t := range tasks {
			seen[t.ID] = struct{}{}
		}
		rows, err := h.repo.ListRecent(c.Request.Context(), nil, limit)
		if err != nil {
			h.log.Warn("History DB read failed", "error", err.Error())
		} else {
			for _, row := range rows {
				if _, dup := seen[row.ID]; dup {
					continue
				}
				tasks = append(tasks, row.ToDomain())
				if len(tasks) >= limit {
					break
				}
			}
		}
	}

	response.RespondOK(c, gin.H{"tasks": tasks})
}

func validateVideoURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("video_url required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("video_url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("video_url must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("video_url missing host")
	}
	return nil
}

// respondDomainError maps domain errors onto the HTTP boundary.
func respondDomainError(c *gin.Context, err error) {
	var (
		notFound *audit.NotFoundError
		notReady *audit.NotReadyError
	)
	switch {
	case errors.As(err, &notFound):
		response.RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.As(err, &notReady):
		response.RespondError(c, http.StatusConflict, "not_ready", err)
	default:
		response.RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}
