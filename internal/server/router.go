package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/ctiharness/internal/metrics"
)

// Router exposes a run's live progress.
// Endpoints:
//
//	GET {basePath}/status              full snapshot
//	GET {basePath}/status/:letter      result of one scenario (404 until it finished)
//	GET {basePath}/healthz             liveness
//	GET {basePath}/metrics             Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	progress *Progress
	basePath string
}

func NewRouter(p *Progress, basePath string) *Router {
	return &Router{progress: p, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/status/:letter", r.handleScenario)
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// Server is a running status endpoint.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and serves the router in the background. Bind errors are
// returned; serve errors after that are dropped.
func Listen(addr, basePath string, p *Progress) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           NewRouter(p, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return &Server{srv: srv, ln: ln}, nil
}

// Addr is the bound address, useful with ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.progress.Snapshot())
}

func (r *Router) handleScenario(c *gin.Context) {
	letter := strings.ToUpper(c.Param("letter"))
	for _, res := range r.progress.Snapshot().Results {
		if res.Letter == letter {
			writeJSON(c, http.StatusOK, res)
			return
		}
	}
	writeJSON(c, http.StatusNotFound, errorResp{Error: "no result for scenario " + letter})
}
