package routes

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amoreport/internal/authz"
	"amoreport/internal/handlers"
	"amoreport/internal/jobs"
	"amoreport/internal/middleware"
	"amoreport/internal/scheduler"
)

const secret = "ops-secret"

type fakeTrigger struct {
	mu      sync.Mutex
	busy    bool
	calls   int
	nextRun time.Time
}

func (f *fakeTrigger) RunNow() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return scheduler.ErrRunInProgress
	}
	f.calls++
	return nil
}

func (f *fakeTrigger) NextRun() time.Time { return f.nextRun }

func (f *fakeTrigger) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

type fakeResults struct {
	res *jobs.Result
}

func (f fakeResults) Last() (jobs.Result, bool) {
	if f.res == nil {
		return jobs.Result{}, false
	}
	return *f.res, true
}

func newRouter(t *testing.T, trigger *fakeTrigger, results fakeResults, jwtSecret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := handlers.NewReportHandler(trigger, results, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return SetupRoutes(gin.New(), h, jwtSecret)
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, key string, scopes []string, ttl time.Duration) string {
	t.Helper()
	tok, err := middleware.IssueToken([]byte(key), "ops@example.com", scopes, ttl)
	require.NoError(t, err)
	return tok
}

func TestHealthz(t *testing.T) {
	r := newRouter(t, &fakeTrigger{}, fakeResults{}, "")
	w := do(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatusReportsLastRun(t *testing.T) {
	next := time.Date(2026, time.October, 16, 18, 0, 0, 0, time.UTC)
	last := &jobs.Result{RunID: "r-1", Day: "2026-10-15", Outcome: jobs.OutcomeNoData, Delivered: true}
	r := newRouter(t, &fakeTrigger{nextRun: next}, fakeResults{res: last}, "")

	w := do(r, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Running bool        `json:"running"`
		NextRun time.Time   `json:"next_run"`
		Last    jobs.Result `json:"last"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Running)
	assert.True(t, next.Equal(body.NextRun))
	assert.Equal(t, "r-1", body.Last.RunID)
	assert.Equal(t, jobs.OutcomeNoData, body.Last.Outcome)
}

func TestStatusBeforeFirstRun(t *testing.T) {
	r := newRouter(t, &fakeTrigger{}, fakeResults{}, "")
	w := do(r, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"last"`)
}

func TestRunNotRegisteredWithoutSecret(t *testing.T) {
	trigger := &fakeTrigger{}
	r := newRouter(t, trigger, fakeResults{}, "")
	w := do(r, http.MethodPost, "/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, trigger.calls)
}

func TestRunRequiresValidToken(t *testing.T) {
	trigger := &fakeTrigger{}
	r := newRouter(t, trigger, fakeResults{}, secret)

	cases := map[string]string{
		"missing":   "",
		"garbage":   "not-a-jwt",
		"wrong key": token(t, "other", []string{authz.ScopeReportRun}, time.Hour),
		"expired":   token(t, secret, []string{authz.ScopeReportRun}, -time.Hour),
	}
	for name, tok := range cases {
		w := do(r, http.MethodPost, "/run", tok)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
	assert.Zero(t, trigger.calls)
}

func TestRunRequiresScope(t *testing.T) {
	trigger := &fakeTrigger{}
	r := newRouter(t, trigger, fakeResults{}, secret)

	w := do(r, http.MethodPost, "/run", token(t, secret, []string{"report:read"}, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, trigger.calls)
}

func TestRunStartsOrConflicts(t *testing.T) {
	trigger := &fakeTrigger{}
	r := newRouter(t, trigger, fakeResults{}, secret)
	tok := token(t, secret, []string{authz.ScopeReportRun}, time.Hour)

	w := do(r, http.MethodPost, "/run", tok)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, trigger.calls)

	trigger.busy = true
	w = do(r, http.MethodPost, "/run", tok)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, trigger.calls)
}
