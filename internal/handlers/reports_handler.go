package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"amoreport/internal/jobs"
	"amoreport/internal/scheduler"
)

type Trigger interface {
	RunNow() error
	NextRun() time.Time
	Running() bool
}

type LastResult interface {
	Last() (jobs.Result, bool)
}

type ReportHandler struct {
	Trigger Trigger
	Results LastResult
	Logger  *slog.Logger
}

func NewReportHandler(trigger Trigger, results LastResult, logger *slog.Logger) *ReportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportHandler{Trigger: trigger, Results: results, Logger: logger}
}

func (h *ReportHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type statusResponse struct {
	Running bool         `json:"running"`
	NextRun time.Time    `json:"next_run"`
	Last    *jobs.Result `json:"last,omitempty"`
}

func (h *ReportHandler) Status(c *gin.Context) {
	resp := statusResponse{
		Running: h.Trigger.Running(),
		NextRun: h.Trigger.NextRun(),
	}
	if last, ok := h.Results.Last(); ok {
		resp.Last = &last
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ReportHandler) Run(c *gin.Context) {
	subject := subjectFromCtx(c)
	if err := h.Trigger.RunNow(); err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "run already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.Logger.Info("[ops][run] manual run triggered", "subject", subject)
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}
