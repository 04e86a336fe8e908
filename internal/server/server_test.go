package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/config"
	"github.com/convoport/convoport/internal/middleware"
	"github.com/convoport/convoport/internal/offline"
	"github.com/convoport/convoport/internal/ratelimit"
	"github.com/convoport/convoport/internal/security"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *security.Tracker, *security.EventLog, *offline.Queue) {
	t.Helper()

	events := security.NewEventLog(nil, zap.NewNop())
	t.Cleanup(events.Close)
	tracker := security.NewTracker(security.DefaultTrackerConfig(), events, zap.NewNop())
	t.Cleanup(tracker.Close)

	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Close)
	limiter := ratelimit.NewLimiter(store, tracker, ratelimit.DefaultRules(), zap.NewNop())
	admission := middleware.NewAdmission(limiter, tracker, events, zap.NewNop())

	queue, err := offline.NewQueue(offline.NewMemoryStore(), events, zap.NewNop())
	require.NoError(t, err)

	cfg := config.ServerConfig{Host: "127.0.0.1", Port: 8080}
	srv := New(cfg, admission, tracker, events, queue, zap.NewNop())
	return srv, tracker, events, queue
}

func do(srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Real-IP", "198.51.100.1")
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	w := do(srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	w := do(srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	srv, tracker, _, _ := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/security/block",
		gin.H{"ip": "203.0.113.9", "reason": "spamming orders", "duration_seconds": 600})
	require.Equal(t, http.StatusOK, w.Code)

	blocked, reason := tracker.IsBlocked("203.0.113.9")
	assert.True(t, blocked)
	assert.Equal(t, "spamming orders", reason)

	w = do(srv, http.MethodGet, "/api/v1/security/blocked", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Blocked []*security.BlockedIPRecord `json:"blocked"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Blocked, 1)
	assert.Equal(t, "203.0.113.9", listing.Blocked[0].IP)

	w = do(srv, http.MethodPost, "/api/v1/security/unblock", gin.H{"ip": "203.0.113.9"})
	require.Equal(t, http.StatusOK, w.Code)
	blocked, _ = tracker.IsBlocked("203.0.113.9")
	assert.False(t, blocked)
}

func TestBlockValidation(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/v1/security/block", gin.H{"reason": "missing ip"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(srv, http.MethodPost, "/api/v1/security/block",
		gin.H{"ip": "1.2.3.4", "reason": "x", "duration_seconds": -5})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsIncludesQueueDepth(t *testing.T) {
	srv, _, _, queue := newTestServer(t)
	_, err := queue.Enqueue(context.Background(), "notify", []byte(`{}`), offline.PriorityNormal)
	require.NoError(t, err)

	w := do(srv, http.MethodGet, "/api/v1/security/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["queue_depth"])
	assert.Contains(t, body, "security")
}

func TestRecentEventsLimit(t *testing.T) {
	srv, _, events, _ := newTestServer(t)
	for i := 0; i < 5; i++ {
		events.Log(security.EventSuspiciousActivity, nil)
	}

	w := do(srv, http.MethodGet, "/api/v1/security/events?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Events []*security.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Events, 2)

	w = do(srv, http.MethodGet, "/api/v1/security/events?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplayEndpointAccepted(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	w := do(srv, http.MethodPost, "/api/v1/queue/replay", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestBlockedIPRefusedAtBoundary(t *testing.T) {
	srv, tracker, _, _ := newTestServer(t)
	tracker.Block("198.51.100.1", "abuse", time.Hour)

	w := do(srv, http.MethodGet, "/api/v1/security/stats", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
