package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/pado/internal/service/deploy"
	"github.com/splax/pado/internal/service/events"
	"github.com/splax/pado/internal/service/graph"
	"github.com/splax/pado/internal/service/project"
)

// Services bundles the application services exposed over HTTP.
type Services struct {
	Projects project.Service
	Graph    graph.Service
	Deploy   deploy.Service
	Events   events.Service
}

// Options configures authentication and streaming.
type Options struct {
	JWTSecret   string
	WorkerToken string
	// StreamBuffer bounds each websocket client's outbound queue.
	StreamBuffer int
	DBHealth     func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux          *http.ServeMux
	logger       *slog.Logger
	projects     project.Service
	graph        graph.Service
	deploy       deploy.Service
	events       events.Service
	upgrader     websocket.Upgrader
	limiter      RateLimiter
	jwtSecret    string
	workerToken  string
	streamBuffer int
	dbHealth     func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	activeStreams      *prometheus.GaugeVec
}

const (
	rateWindowDefault       = time.Minute
	rateWindowRealtime      = 30 * time.Second
	rateLimitUserWrite      = 60
	rateLimitUserRead       = 120
	rateLimitStream         = 30
	rateLimitWorkerCallback = 600
	healthCheckTimeout      = 2 * time.Second
)

var (
	ruleCatalog  = rateRule{route: "/components", limit: rateLimitUserRead, window: rateWindowDefault}
	ruleProjects = rateRule{route: "/projects", limit: rateLimitUserWrite, window: rateWindowDefault}
	ruleProject  = rateRule{route: "/projects/{id}", limit: rateLimitUserRead, window: rateWindowDefault}
	ruleStream   = rateRule{route: "/ws/events", limit: rateLimitStream, window: rateWindowRealtime}
	ruleWorker   = rateRule{route: "/worker/callback", limit: rateLimitWorkerCallback, window: rateWindowDefault}
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, svc Services, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		projects: svc.Projects,
		graph:    svc.Graph,
		deploy:   svc.Deploy,
		events:   svc.Events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:      limiter,
		jwtSecret:    opts.JWTSecret,
		workerToken:  strings.TrimSpace(opts.WorkerToken),
		streamBuffer: opts.StreamBuffer,
		dbHealth:     opts.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/components", r.audit(ruleCatalog.route, r.handlerAuthRate(ruleCatalog, r.handleCatalog)))
	r.mux.HandleFunc("/projects", r.audit(ruleProjects.route, r.handlerAuthRate(ruleProjects, r.handleProjects)))
	r.mux.HandleFunc("/projects/", r.audit(ruleProject.route, r.handlerAuthRate(ruleProject, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/ws/events", r.audit(ruleStream.route, r.handlerAuthRate(ruleStream, r.handleEventsWS)))
	r.mux.HandleFunc("/worker/callback", r.audit(ruleWorker.route, r.withRateLimit(ruleWorker, rateLimitKeyIP, r.handleWorkerCallback)))
}

// handleProjectSubroutes dispatches /projects/{id}/... by path segment.
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/projects/"), "/")
	parts := strings.Split(trimmed, "/")
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	rest := parts[1:]

	switch {
	case len(rest) == 0:
		r.handleProject(w, req, projectID)
	case rest[0] == "components":
		r.handleComponentRoutes(w, req, projectID, rest[1:])
	case rest[0] == "deploy" && len(rest) == 2:
		r.handleDeployAction(w, req, projectID, rest[1])
	case rest[0] == "deployments" && len(rest) == 1:
		r.handleDeployments(w, req, projectID)
	case rest[0] == "deployments" && len(rest) == 2 && rest[1] == "latest":
		r.handleLatestDeployment(w, req, projectID)
	case rest[0] == "events" && len(rest) == 1:
		r.handleEvents(w, req, projectID)
	case rest[0] == "events" && len(rest) == 2 && rest[1] == "stream":
		r.handleEventsStream(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleComponentRoutes(w http.ResponseWriter, req *http.Request, projectID string, rest []string) {
	switch {
	case len(rest) == 0:
		r.handleCreateComponent(w, req, projectID)
	case len(rest) == 1:
		r.handleDeleteComponent(w, req, projectID, rest[0])
	case len(rest) == 2 && rest[1] == "setting":
		r.handleUpdateSetting(w, req, projectID, rest[0])
	case len(rest) == 2 && rest[1] == "connections":
		r.handleCreateConnection(w, req, projectID, rest[0])
	case len(rest) == 3 && rest[1] == "connections":
		r.handleDeleteConnection(w, req, projectID, rest[0], rest[2])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// audit logs every request and records its metrics under route, a bounded
// label rather than the raw path.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		} else if strings.HasPrefix(req.URL.Path, "/worker/") {
			actor = "worker"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
