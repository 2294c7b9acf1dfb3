package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/fanout/internal/models"
	"github.com/ifuryst/fanout/internal/service"
)

type batchRequest struct {
	IDs   []string `json:"ids" binding:"required"`
	Force bool     `json:"force"`
}

type platformStatus struct {
	Platform string `json:"platform"`
	Kind     string `json:"kind"`
	Enabled  bool   `json:"enabled"`
}

func (s *Server) handleHealth(c *gin.Context) {
	platforms := []platformStatus{}
	if s.Publishers != nil {
		for _, p := range s.Publishers.Platforms() {
			platforms = append(platforms, platformStatus{Platform: p.PlatformCode, Kind: p.Kind, Enabled: p.Enabled})
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"time":      time.Now().Unix(),
		"platforms": platforms,
	})
}

func (s *Server) handlePreviewPlan(c *gin.Context) {
	var in service.PlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "InvalidSelection"})
		return
	}
	preview, err := s.Plans.Preview(c.Request.Context(), in)
	if err != nil {
		s.fail(c, "Failed to preview plan", err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (s *Server) handleExecutePlan(c *gin.Context) {
	var in service.PlanInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "InvalidSelection"})
		return
	}
	res, err := s.Plans.Execute(c.Request.Context(), in)
	if err != nil {
		s.fail(c, "Failed to execute plan", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListTasks(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "reason": "InvalidSelection"})
		return
	}
	tasks, err := s.Lifecycle.List(c.Request.Context(), models.TaskStatus(c.Query("status")), limit)
	if err != nil {
		s.fail(c, "Failed to list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []*models.PublishTask{}
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleTaskStats(c *gin.Context) {
	stats, err := s.Stats.TaskStats(c.Request.Context())
	if err != nil {
		s.fail(c, "Failed to get task stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.Lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "Failed to get task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleRetryTask(c *gin.Context) {
	task, err := s.Lifecycle.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "Failed to retry task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleCancelTask(c *gin.Context) {
	force, err := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "force must be a boolean", "reason": "InvalidSelection"})
		return
	}
	task, err := s.Lifecycle.Cancel(c.Request.Context(), c.Param("id"), force)
	if err != nil {
		s.fail(c, "Failed to cancel task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if err := s.Lifecycle.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, "Failed to delete task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Task deleted"})
}

func (s *Server) handleReportResult(c *gin.Context) {
	var outcome service.Outcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "InvalidSelection"})
		return
	}
	task, err := s.Lifecycle.ReportResult(c.Request.Context(), c.Param("id"), outcome)
	if err != nil {
		s.fail(c, "Failed to record task result", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleBatchRetry(c *gin.Context) {
	var req batchRequest
	if !s.bindBatch(c, &req) {
		return
	}
	c.JSON(http.StatusOK, s.Lifecycle.BatchRetry(c.Request.Context(), req.IDs))
}

func (s *Server) handleBatchCancel(c *gin.Context) {
	var req batchRequest
	if !s.bindBatch(c, &req) {
		return
	}
	c.JSON(http.StatusOK, s.Lifecycle.BatchCancel(c.Request.Context(), req.IDs, req.Force))
}

func (s *Server) handleBatchDelete(c *gin.Context) {
	var req batchRequest
	if !s.bindBatch(c, &req) {
		return
	}
	c.JSON(http.StatusOK, s.Lifecycle.BatchDelete(c.Request.Context(), req.IDs))
}

func (s *Server) handleClearTasks(c *gin.Context) {
	bucket := c.Query("status")
	if bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required", "reason": "InvalidSelection"})
		return
	}
	n, err := s.Lifecycle.ClearByStatus(c.Request.Context(), service.ClearBucket(bucket))
	if err != nil {
		s.fail(c, "Failed to clear tasks", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) bindBatch(c *gin.Context, req *batchRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "reason": "InvalidSelection"})
		return false
	}
	return true
}

// fail writes err with the status code of its taxonomy reason.
func (s *Server) fail(c *gin.Context, msg string, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.Logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		s.Logger.Debug(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error(), "reason": models.ReasonOf(err)})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrPublisherFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
