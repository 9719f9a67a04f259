package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/redeployr/internal/auth"
	"github.com/loykin/redeployr/internal/deployer"
	"github.com/loykin/redeployr/internal/env"
	"github.com/loykin/redeployr/internal/history"
	"github.com/loykin/redeployr/internal/logger"
	"github.com/loykin/redeployr/internal/metrics"
	"github.com/loykin/redeployr/internal/port"
	"github.com/loykin/redeployr/internal/process"
)

// Restarter is the deployer operation exposed over HTTP.
type Restarter interface {
	Restart(ctx context.Context, port int, spec process.Spec) (deployer.Result, error)
}

// Config tunes a Router.
type Config struct {
	BasePath string
	Env      []string         // base environment for launched applications
	Log      logger.AppConfig // application log settings used when a request has none
	Lister   history.Lister   // nil disables GET /history
	Auth     *auth.Service    // nil leaves the API open
	Logger   *slog.Logger
	// StopWait is the longest a restart may block while the previous owner
	// stops; the server's write timeout leaves room for it.
	StopWait time.Duration
}

// writeMargin covers lookup, spawn and response writing on top of StopWait.
const writeMargin = 30 * time.Second

func (c Config) writeTimeout() time.Duration {
	w := c.StopWait
	if w <= 0 {
		w = deployer.Options{}.MaxStopWait()
	}
	return w + writeMargin
}

// Router provides embeddable HTTP handlers for restarting applications.
// Endpoints:
//
//	POST {basePath}/deploy        body: DeployRequest JSON
//	GET  {basePath}/ports/:port   current owner of a port
//	GET  {basePath}/history       query: limit=N
//	GET  /metrics                 prometheus exposition
//
// Restarts of the same port are serialized: a request for a port that is
// already restarting gets 409.
type Router struct {
	dep    Restarter
	finder port.Finder
	cfg    Config

	mu   sync.Mutex
	busy map[int]struct{}
}

// DeployRequest is the body of POST {basePath}/deploy.
type DeployRequest struct {
	Port    int               `json:"port"`
	Command string            `json:"command"`
	Name    string            `json:"name,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     []string          `json:"env,omitempty"`
	PIDFile string            `json:"pid_file,omitempty"`
	Log     *logger.AppConfig `json:"log,omitempty"`
}

// NewRouter constructs a Router.
func NewRouter(dep Restarter, finder port.Finder, cfg Config) *Router {
	cfg.BasePath = sanitizeBase(cfg.BasePath)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Router{dep: dep, finder: finder, cfg: cfg, busy: make(map[int]struct{})}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.cfg.BasePath)
	group.Use(r.cfg.Auth.GinAuth())
	group.POST("/deploy", r.handleDeploy)
	group.GET("/ports/:port", r.handlePort)
	group.GET("/history", r.handleHistory)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer binds addr and serves the router in the background. Bind errors
// are returned; the caller shuts the server down.
func NewServer(addr string, r *Router) (*http.Server, error) {
	return NewTLSServer(addr, r, nil)
}

// NewTLSServer is NewServer over TLS. A nil tc serves plain HTTP.
func NewTLSServer(addr string, r *Router, tc *tls.Config) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      r.cfg.writeTimeout(),
		IdleTimeout:       60 * time.Second,
	}
	if tc != nil {
		ln = tls.NewListener(ln, tc)
	}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.cfg.Logger.Error("http server stopped", "error", err)
		}
	}()
	return server, nil
}

func (r *Router) tryLock(p int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.busy[p]; ok {
		return false
	}
	r.busy[p] = struct{}{}
	return true
}

func (r *Router) unlock(p int) {
	r.mu.Lock()
	delete(r.busy, p)
	r.mu.Unlock()
}

// --- Handlers ---

func (r *Router) handleDeploy(c *gin.Context) {
	var req DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := port.Validate(req.Port); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	spec := process.Spec{
		Name:    req.Name,
		Command: req.Command,
		WorkDir: req.WorkDir,
		PIDFile: req.PIDFile,
		Log:     r.cfg.Log,
	}
	if req.Log != nil {
		spec.Log = *req.Log
	}
	if err := spec.Validate(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	for field, p := range map[string]string{
		"work_dir":   spec.WorkDir,
		"pid_file":   spec.PIDFile,
		"log.dir":    spec.Log.Dir,
		"log.stdout": spec.Log.StdoutPath,
		"log.stderr": spec.Log.StderrPath,
	} {
		if !isSafeAbsPath(p) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + field + ": must be absolute path without traversal"})
			return
		}
	}
	e := env.New()
	e.SetPairs(r.cfg.Env)
	spec.Env = e.Merge(req.Env)

	if !r.tryLock(req.Port) {
		writeJSON(c, http.StatusConflict, errorResp{Error: fmt.Sprintf("restart of port %d already in progress", req.Port)})
		return
	}
	defer r.unlock(req.Port)

	// a client hanging up must not abandon a restart between stop and start
	ctx := context.WithoutCancel(c.Request.Context())
	res, err := r.dep.Restart(ctx, req.Port, spec)
	if err != nil {
		code, body := statusFor(err)
		r.cfg.Logger.Warn("deploy request failed", "port", req.Port, "status", code, "caller", c.GetString(auth.NameKey), "error", err)
		writeJSON(c, code, body)
		return
	}
	r.cfg.Logger.Info("deploy request served", "port", req.Port, "pid", res.NewPID, "caller", c.GetString(auth.NameKey))
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handlePort(c *gin.Context) {
	p, err := strconv.Atoi(c.Param("port"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid port: " + c.Param("port")})
		return
	}
	if err := port.Validate(p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	b, err := r.finder.Owner(c.Request.Context(), p)
	if err != nil {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error(), Kind: deployer.KindLookupFailed})
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.cfg.Lister == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not configured"})
		return
	}
	limit := 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit: " + s})
			return
		}
		limit = n
	}
	events, err := r.cfg.Lister.List(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}
