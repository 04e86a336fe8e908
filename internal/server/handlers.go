package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/offline"
	"github.com/convoport/convoport/internal/security"
	"github.com/convoport/convoport/pkg/errors"
)

type handlers struct {
	tracker *security.Tracker
	events  *security.EventLog
	queue   *offline.Queue
	logger  *zap.Logger
}

func (h *handlers) stats(c *gin.Context) {
	report := security.BuildStats(h.events, h.tracker)
	resp := gin.H{"security": report}
	if h.queue != nil {
		resp["queue_depth"] = h.queue.Len()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) recentEvents(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest,
				errors.NewValidationError("limit must be a non-negative integer", c.FullPath()))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"events": h.events.Recent(limit)})
}

func (h *handlers) blockedIPs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"blocked": h.tracker.BlockedIPs()})
}

type blockRequest struct {
	IP              string `json:"ip" binding:"required"`
	Reason          string `json:"reason" binding:"required"`
	DurationSeconds int    `json:"duration_seconds"`
}

func (h *handlers) blockIP(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			errors.NewValidationError(err.Error(), c.FullPath()))
		return
	}
	if req.DurationSeconds < 0 {
		c.JSON(http.StatusBadRequest,
			errors.NewValidationError("duration_seconds must not be negative", c.FullPath()))
		return
	}

	h.tracker.Block(req.IP, req.Reason, time.Duration(req.DurationSeconds)*time.Second)
	h.logger.Info("administrative block",
		zap.String("ip", req.IP),
		zap.String("reason", req.Reason),
		zap.Int("duration_seconds", req.DurationSeconds))
	c.JSON(http.StatusOK, gin.H{"blocked": req.IP})
}

type unblockRequest struct {
	IP string `json:"ip" binding:"required"`
}

func (h *handlers) unblockIP(c *gin.Context) {
	var req unblockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest,
			errors.NewValidationError(err.Error(), c.FullPath()))
		return
	}
	h.tracker.Unblock(req.IP)
	c.JSON(http.StatusOK, gin.H{"unblocked": req.IP})
}

func (h *handlers) queueStatus(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusOK, gin.H{"depth": 0})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"depth":   h.queue.Len(),
		"pending": h.queue.Pending(),
	})
}

func (h *handlers) replayQueue(c *gin.Context) {
	if h.queue != nil {
		go h.queue.TriggerReplay()
	}
	c.JSON(http.StatusAccepted, gin.H{"replay": "triggered"})
}
