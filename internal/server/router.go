package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/warden/internal/breaker"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/stats"
)

// Status is the body of GET /status.
type Status struct {
	PID           int                 `json:"pid"`
	StartedAt     time.Time           `json:"started_at"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Stats         *stats.ProcessStats `json:"stats,omitempty"`
	Breakers      []breaker.Snapshot  `json:"breakers"`
}

// StatusSource is implemented by the running daemon.
type StatusSource interface {
	Status(ctx context.Context) Status
	// ResetBreaker forces the named breaker closed. It reports false for
	// unknown names.
	ResetBreaker(name string) bool
}

// Router serves the daemon's local HTTP API.
// Endpoints:
//
//	GET  {basePath}/healthz
//	GET  {basePath}/status
//	GET  {basePath}/history?limit=N        (404 when no history store)
//	POST {basePath}/breakers/:name/reset
//	GET  {basePath}/metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	src      StatusSource
	history  history.Reader
	basePath string
}

// NewRouter constructs a Router. hist may be nil.
func NewRouter(src StatusSource, hist history.Reader, basePath string) *Router {
	return &Router{src: src, history: hist, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/status", r.handleStatus)
	group.GET("/history", r.handleHistory)
	group.POST("/breakers/:name/reset", r.handleBreakerReset)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer binds addr and serves handler in the background. Bind errors are
// returned directly; later serve errors are logged.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server stopped", "addr", server.Addr, "error", err)
		}
	}()
	logger.Info("status server listening", "addr", server.Addr)
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.src.Status(c.Request.Context()))
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is disabled"})
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	evs, err := r.history.List(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleBreakerReset(c *gin.Context) {
	if !r.src.ResetBreaker(c.Param("name")) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown breaker " + c.Param("name")})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
