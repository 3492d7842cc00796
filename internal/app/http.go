package app

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orgball2608/insta-metrics-collector/internal/collector"
	"github.com/orgball2608/insta-metrics-collector/internal/lock"
	"github.com/orgball2608/insta-metrics-collector/pkg/errors"
	"github.com/orgball2608/insta-metrics-collector/pkg/logger"
)

type dailyRequest struct {
	AccountIDs []string `json:"account_ids"`
	TargetDate string   `json:"target_date" binding:"omitempty,datetime=2006-01-02"`
	DryRun     bool     `json:"dry_run"`
}

type refreshRequest struct {
	WindowDays int  `json:"window_days" binding:"omitempty,min=1,max=90"`
	MaxPosts   int  `json:"max_posts" binding:"omitempty,min=1,max=200"`
	Force      bool `json:"force"`
	DryRun     bool `json:"dry_run"`
}

type backfillRequest struct {
	StartDate string `json:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" binding:"required,datetime=2006-01-02"`
	MaxPosts  int    `json:"max_posts" binding:"omitempty,min=1,max=1000"`
}

type missingMetricsRequest struct {
	DaysBack int `json:"days_back" binding:"omitempty,min=1,max=90"`
}

type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code,omitempty"`
	Message           string `json:"message,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func newErrorResponse(err error) errorResponse {
	return errorResponse{
		Error:   err.Error(),
		Code:    errors.GetCode(err),
		Message: errors.GetMessage(err),
	}
}

type handler struct {
	client collector.Client
	logger logger.Logger
}

func NewRouter(client collector.Client, log logger.Logger, env string) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	h := &handler{client: client, logger: log.WithComponent("HTTP")}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/healthz", h.healthz)
	r.POST("/collection/daily", h.runDaily)
	r.GET("/collection/daily/status", h.dailyStatus)
	r.POST("/collection/accounts/:id/refresh", h.refresh)
	r.POST("/collection/accounts/:id/backfill", h.backfill)
	r.POST("/collection/accounts/:id/missing-metrics", h.missingMetrics)
	return r
}

func (h *handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		args := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			h.logger.Error("HTTP request", args...)
		case status >= 400:
			h.logger.Warn("HTTP request", args...)
		default:
			h.logger.Debug("HTTP request", args...)
		}
	}
}

func (h *handler) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// runDaily answers 200 when every attempted account succeeded, 207 on a mix
// and 500 when all of them failed.
func (h *handler) runDaily(c *gin.Context) {
	var req dailyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	batch := collector.BatchRequest{AccountIDs: req.AccountIDs, DryRun: req.DryRun}
	if req.TargetDate != "" {
		batch.TargetDate, _ = time.Parse(time.DateOnly, req.TargetDate)
	}

	report, err := h.client.RunDailyBatch(c.Request.Context(), batch)
	if err != nil {
		h.writeError(c, err)
		return
	}

	succeeded, failed, _ := report.Counts()
	status := http.StatusOK
	switch {
	case report.Status == collector.StatusFailed:
		status = http.StatusInternalServerError
	case succeeded > 0 && failed > 0:
		status = http.StatusMultiStatus
	}
	c.JSON(status, report)
}

func (h *handler) dailyStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.client.DailyStatus())
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	report, err := h.client.ManualRefresh(c.Request.Context(), collector.RefreshRequest{
		AccountID:  c.Param("id"),
		WindowDays: req.WindowDays,
		MaxPosts:   req.MaxPosts,
		Force:      req.Force,
		DryRun:     req.DryRun,
	})
	h.writeRun(c, report, err)
}

func (h *handler) backfill(c *gin.Context) {
	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)

	report, err := h.client.Backfill(c.Request.Context(), collector.BackfillRequest{
		AccountID: c.Param("id"),
		StartDate: start,
		EndDate:   end,
		MaxPosts:  req.MaxPosts,
	})
	h.writeRun(c, report, err)
}

func (h *handler) missingMetrics(c *gin.Context) {
	var req missingMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	report, err := h.client.CollectMissingMetrics(c.Request.Context(), collector.MissingMetricsRequest{
		AccountID: c.Param("id"),
		DaysBack:  req.DaysBack,
	})
	h.writeRun(c, report, err)
}

func (h *handler) writeRun(c *gin.Context, report *collector.RunReport, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusOK
	if !report.Succeeded() {
		status = http.StatusInternalServerError
	}
	c.JSON(status, report)
}

func (h *handler) writeError(c *gin.Context, err error) {
	resp := newErrorResponse(err)
	var denied *lock.DeniedError
	switch {
	case errors.As(err, &denied) && denied.Reason == lock.ReasonTooSoon:
		seconds := int(math.Ceil(denied.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		resp.Reason = string(denied.Reason)
		resp.RetryAfterSeconds = seconds
		c.JSON(http.StatusTooManyRequests, resp)
	case errors.As(err, &denied):
		resp.Reason = string(denied.Reason)
		c.JSON(http.StatusConflict, resp)
	case errors.IsLockConflict(err):
		c.JSON(http.StatusConflict, resp)
	case errors.IsNotFound(err):
		c.JSON(http.StatusNotFound, resp)
	case errors.IsValidation(err):
		c.JSON(http.StatusBadRequest, resp)
	case errors.IsPersistence(err):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, resp)
	}
}
