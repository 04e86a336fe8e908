// Package middleware contains the gin boundary guards: the admission
// check ahead of every handler and the request audit log.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/ratelimit"
	"github.com/convoport/convoport/internal/security"
	"github.com/convoport/convoport/pkg/errors"
)

// Admission is the boundary guard. Every inbound request passes it
// before reaching a handler; rejected requests get a structured refusal.
type Admission struct {
	limiter *ratelimit.Limiter
	tracker *security.Tracker
	events  *security.EventLog
	logger  *zap.Logger
}

func NewAdmission(limiter *ratelimit.Limiter, tracker *security.Tracker, events *security.EventLog, logger *zap.Logger) *Admission {
	return &Admission{
		limiter: limiter,
		tracker: tracker,
		events:  events,
		logger:  logger.Named("admission"),
	}
}

// Handler returns the gin middleware.
func (a *Admission) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		info := requestInfo(c)

		decision, err := a.limiter.Admit(c.Request.Context(), info)
		if err != nil {
			// The limiter degrades internally; an error here is a
			// programming fault, not a store outage. Admit the request.
			a.logger.Error("admission check failed", zap.Error(err))
			c.Next()
			return
		}

		if !decision.Allowed {
			a.refuse(c, info, decision)
			return
		}

		c.Next()

		success := c.Writer.Status() < http.StatusBadRequest
		a.limiter.RecordOutcome(c.Request.Context(), info, success)
	}
}

func (a *Admission) refuse(c *gin.Context, info *ratelimit.RequestInfo, decision ratelimit.Decision) {
	switch decision.Reason {
	case "ip_blocked":
		if a.events != nil {
			a.events.Log(security.EventBlockedRequestAttempt, map[string]interface{}{
				"ip":     info.ClientIP,
				"path":   info.Path,
				"method": info.Method,
				"agent":  info.UserAgent,
				"reason": decision.BlockInfo,
			})
		}
		problem := errors.NewBlockedError(
			fmt.Sprintf("access denied: %s", decision.BlockInfo), c.FullPath())
		c.AbortWithStatusJSON(http.StatusForbidden, problem)

	default:
		retryAfter := ratelimit.RetryAfterSeconds(decision.RetryAfter)
		if a.events != nil {
			a.events.Log(security.EventRateLimitExceeded, map[string]interface{}{
				"ip":     info.ClientIP,
				"path":   info.Path,
				"method": info.Method,
				"rule":   decision.Rule,
			})
		}
		// Repeated limit violations are themselves a suspicion signal.
		if a.tracker != nil {
			a.tracker.Track(info.ClientIP, "rate limit exceeded: "+decision.Rule)
		}
		problem := errors.NewRateLimitError(
			fmt.Sprintf("rate limit %q exceeded", decision.Rule), c.FullPath(), retryAfter)
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, problem)
	}
}

// requestInfo flattens the gin request into the limiter's view of it.
func requestInfo(c *gin.Context) *ratelimit.RequestInfo {
	return &ratelimit.RequestInfo{
		ClientIP:  clientIP(c.Request),
		UserID:    userID(c),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		UserAgent: c.Request.UserAgent(),
	}
}

// clientIP checks the usual proxy headers before the transport address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}

func userID(c *gin.Context) string {
	if id, ok := c.Get("user_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return c.Request.Header.Get("X-User-ID")
}
