package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/splax/pado/internal/dispatch"
	"github.com/splax/pado/internal/domain"
	"github.com/splax/pado/internal/repository/memory"
	"github.com/splax/pado/internal/service/deploy"
	"github.com/splax/pado/internal/service/events"
	"github.com/splax/pado/internal/service/graph"
	"github.com/splax/pado/internal/service/project"
	"github.com/splax/pado/internal/ws"
	jwtpkg "github.com/splax/pado/pkg/jwt"
)

const (
	testSecret      = "test-secret"
	testWorkerToken = "worker-secret"
)

type brokerStub struct {
	err error
}

func (b *brokerStub) IssueWrappedToken(context.Context, string, time.Duration) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return "hvs.wrapped", nil
}

type commandsStub struct {
	mu     sync.Mutex
	starts []dispatch.Envelope
	stops  []dispatch.Envelope
}

func (c *commandsStub) SendStart(_ context.Context, env dispatch.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, env)
	return nil
}

func (c *commandsStub) SendStop(_ context.Context, env dispatch.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = append(c.stops, env)
	return nil
}

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []rateLimitCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

type rateLimitCall struct {
	key    string
	limit  int
	window time.Duration
}

func (rl *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	rl.mu.Lock()
	rl.calls = append(rl.calls, rateLimitCall{key: key, limit: limit, window: window})
	rl.mu.Unlock()
	if rl.allowFn != nil {
		return rl.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1}
}

func (rl *rateLimiterStub) Close() {}

type testEnv struct {
	router   *Router
	store    *memory.Store
	broker   *brokerStub
	commands *commandsStub
	hub      *ws.Hub
	token    string
}

func setupRouter(t *testing.T, limiter RateLimiter) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New(memory.WithDefaultCatalog())
	hub := ws.NewHub(16)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	env := &testEnv{store: store, broker: &brokerStub{}, commands: &commandsStub{}, hub: hub}
	eventSvc := events.New(store, hub, logger)
	if limiter == nil {
		limiter = &rateLimiterStub{}
	}
	env.router = NewRouter(logger, Services{
		Projects: project.New(store, eventSvc, logger),
		Graph:    graph.New(store, logger),
		Deploy:   deploy.New(store, env.broker, env.commands, eventSvc, nil, logger, deploy.Config{}),
		Events:   eventSvc,
	}, limiter, Options{JWTSecret: testSecret, WorkerToken: testWorkerToken})
	t.Cleanup(env.router.Close)

	token, err := jwtpkg.GenerateToken("user-123", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	env.token = token
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) createProject(t *testing.T, name string) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/projects", map[string]string{"name": name})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", rr.Code, rr.Body.String())
	}
	var created domain.Project
	decode(t, rr.Body, &created)
	return created.ID
}

func decode(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func parseError(t *testing.T, body string) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	v, _ := payload["error"].(string)
	return v
}

func TestProjectsRequireBearerToken(t *testing.T) {
	env := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad token, got %d", rr.Code)
	}
	if msg := parseError(t, rr.Body.String()); msg != "authentication failed" {
		t.Fatalf("unexpected error message %q", msg)
	}
}

func TestDeployLifecycleOverHTTP(t *testing.T) {
	env := setupRouter(t, nil)
	projectID := env.createProject(t, "shop")

	rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/components", map[string]string{"resourceType": "S3", "serviceType": "SPRING"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create component: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/start", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("start: status %d body %s", rr.Code, rr.Body.String())
	}
	var started deploy.Result
	decode(t, rr.Body, &started)
	if started.DeploymentID == "" || started.Message != "Deployment started for project ID: "+projectID {
		t.Fatalf("unexpected start result %+v", started)
	}

	rr = env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/start", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a second start, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/projects/"+projectID+"/deployments/latest", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("latest: status %d", rr.Code)
	}
	var latest domain.Deployment
	decode(t, rr.Body, &latest)
	if latest.DeploymentID != started.DeploymentID || len(latest.Components) != 1 || len(latest.Components[0].Children) != 1 {
		t.Fatalf("unexpected snapshot %+v", latest)
	}

	rr = env.do(t, http.MethodPost, "/projects/"+projectID+"/components", map[string]string{"resourceType": "EC2", "serviceType": "NODE"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected graph edits to be refused while queued, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/stop", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("stop: status %d body %s", rr.Code, rr.Body.String())
	}
	if len(env.commands.starts) != 1 || len(env.commands.stops) != 1 {
		t.Fatalf("expected one start and one stop, got %d/%d", len(env.commands.starts), len(env.commands.stops))
	}

	rr = env.do(t, http.MethodGet, "/projects/"+projectID+"/events", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("events: status %d", rr.Code)
	}
	var list []domain.ProjectEvent
	decode(t, rr.Body, &list)
	if len(list) != 3 || list[0].Kind != events.KindStopRequested {
		t.Fatalf("unexpected events %+v", list)
	}
}

func TestStopWithoutDeploymentIsNotFound(t *testing.T) {
	env := setupRouter(t, nil)
	projectID := env.createProject(t, "shop")

	rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/stop", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a DRAFT project, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/projects/"+projectID+"/deployments/latest", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a snapshot, got %d", rr.Code)
	}
}

func TestBrokerFailureIsBadGateway(t *testing.T) {
	env := setupRouter(t, nil)
	env.broker.err = fmt.Errorf("%w: vault sealed", domain.ErrSecretBroker)
	projectID := env.createProject(t, "shop")

	rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/start", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	if msg := parseError(t, rr.Body.String()); msg != "secret broker unavailable" {
		t.Fatalf("unexpected error message %q", msg)
	}
	if p, _ := env.store.Project(projectID); p.DeploymentStatus != domain.StatusDraft {
		t.Fatalf("expected DRAFT after a failed start, got %s", p.DeploymentStatus)
	}
}

func TestForeignProjectIsNotFound(t *testing.T) {
	env := setupRouter(t, nil)
	projectID := env.createProject(t, "shop")

	other, err := jwtpkg.GenerateToken("user-456", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/projects/"+projectID, nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestWorkerCallback(t *testing.T) {
	env := setupRouter(t, nil)
	projectID := env.createProject(t, "shop")
	if rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/components", map[string]string{"resourceType": "EC2", "serviceType": "SPRING"}); rr.Code != http.StatusCreated {
		t.Fatalf("create component: %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/projects/"+projectID+"/deploy/start", nil)
	var started deploy.Result
	decode(t, rr.Body, &started)

	report := func(token, status string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(map[string]string{"deploymentId": started.DeploymentID, "projectId": projectID, "status": status})
		req := httptest.NewRequest(http.MethodPost, "/worker/callback", bytes.NewReader(body))
		if token != "" {
			req.Header.Set("X-Worker-Token", token)
		}
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	if rr := report("", "DEPLOYING"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := report("worker-secreT", "DEPLOYING"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a wrong token, got %d", rr.Code)
	}
	if rr := report(testWorkerToken, "DEPLOYED"); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a skipped transition, got %d", rr.Code)
	}
	if rr := report(testWorkerToken, "deploying"); rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body %s", rr.Code, rr.Body.String())
	}
	if p, _ := env.store.Project(projectID); p.DeploymentStatus != domain.StatusDeploying {
		t.Fatalf("expected DEPLOYING, got %s", p.DeploymentStatus)
	}
	if rr := report(testWorkerToken, "QUEUED"); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a user-driven status, got %d", rr.Code)
	}

	body, _ := json.Marshal(map[string]string{"deploymentId": uuid.NewString(), "projectId": projectID, "status": "DEPLOYED"})
	req := httptest.NewRequest(http.MethodPost, "/worker/callback", bytes.NewReader(body))
	req.Header.Set("X-Worker-Token", testWorkerToken)
	unknown := httptest.NewRecorder()
	env.router.ServeHTTP(unknown, req)
	if unknown.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown deployment, got %d", unknown.Code)
	}
}

func TestWorkerCallbackWithoutConfiguredToken(t *testing.T) {
	env := setupRouter(t, nil)
	env.router.workerToken = ""

	req := httptest.NewRequest(http.MethodPost, "/worker/callback", strings.NewReader(`{}`))
	req.Header.Set("X-Worker-Token", "anything")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRateLimitedRequest(t *testing.T) {
	reset := time.Unix(1_950_000_000, 0)
	limiter := &rateLimiterStub{allowFn: func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}}
	env := setupRouter(t, limiter)

	rr := env.do(t, http.MethodGet, "/projects", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.calls) != 1 {
		t.Fatalf("expected limiter called once, got %d", len(limiter.calls))
	}
	if call := limiter.calls[0]; call.key != "/projects|user:user-123" || call.limit != rateLimitUserWrite {
		t.Fatalf("unexpected limiter call %+v", call)
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter().(*memoryRateLimiter)
	defer rl.Close()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 1; i <= 2; i++ {
		if d := rl.Allow("k", 2, time.Minute); !d.allowed || d.count != i {
			t.Fatalf("request %d: unexpected decision %+v", i, d)
		}
	}
	if d := rl.Allow("k", 2, time.Minute); d.allowed {
		t.Fatalf("third request must be limited")
	}
	now = now.Add(time.Minute + time.Second)
	if d := rl.Allow("k", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("expected a fresh window, got %+v", d)
	}
}

func TestWorkerCallbackLimitIgnoresForwardedFor(t *testing.T) {
	env := setupRouter(t, NewMemoryRateLimiter())

	var last *httptest.ResponseRecorder
	for i := 0; i <= rateLimitWorkerCallback; i++ {
		req := httptest.NewRequest(http.MethodPost, "/worker/callback", strings.NewReader(`{}`))
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		last = httptest.NewRecorder()
		env.router.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the peer exhausted its budget, got %d", last.Code)
	}
}

func TestRateLimitKeyIPUsesPeerAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/worker/callback", nil)
	req.RemoteAddr = "203.0.113.9:40000"
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	if key := rateLimitKeyIP(req); key != "ip:203.0.113.9" {
		t.Fatalf("unexpected limiter key %q", key)
	}
	if ip := clientIP(req); ip != "198.51.100.7" {
		t.Fatalf("audit ip should still show the forwarded address, got %q", ip)
	}
}

func TestServiceErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrDeploymentNotFound, http.StatusNotFound},
		{domain.ErrComponentSettingNotFound, http.StatusNotFound},
		{domain.ErrInvalidProjectStatus, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrSecretBroker, http.StatusBadGateway},
		{domain.ErrDispatch, http.StatusBadGateway},
		{domain.ErrSerialization, http.StatusInternalServerError},
		{domain.ErrInternal, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, msg := serviceErrorStatus(fmt.Errorf("wrapped: %w", tc.err))
		if status != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, status)
		}
		if status == http.StatusInternalServerError && msg != "internal error" {
			t.Fatalf("%v: internal details leaked in %q", tc.err, msg)
		}
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := setupRouter(t, nil)
	env.router.dbHealth = func(context.Context) error { return errors.New("connection refused") }

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var payload map[string]any
	decode(t, rr.Body, &payload)
	if payload["status"] != "degraded" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCatalogListsPairings(t *testing.T) {
	env := setupRouter(t, nil)
	rr := env.do(t, http.MethodGet, "/components", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var entries []domain.CatalogEntry
	decode(t, rr.Body, &entries)
	if len(entries) != 7 {
		t.Fatalf("expected seven pairings, got %d", len(entries))
	}
}
