package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tedstreete/six-degrees/internal/assembler"
	"github.com/tedstreete/six-degrees/internal/fetchlog"
	"github.com/tedstreete/six-degrees/internal/foundation"
)

// Version is the API version.
const Version = "1.0.0"

// Expander is the graph-building surface the API drives. Satisfied by
// *assembler.Assembler.
type Expander interface {
	Expand(ctx context.Context, title string, depth int) *assembler.Graph
}

// StatsSource supplies the management surface. Nil funcs and a nil ledger
// are tolerated; the corresponding fields render as zero.
type StatsSource struct {
	Topology   foundation.Topology
	SpareSlabs func() int
	Fetches    func() (upstreamCalls, cacheHits int64)
	Ledger     *fetchlog.Log
}

type Config struct {
	APIAddr        string
	ManagementAddr string
	// DefaultDepth applies when a request carries no depth parameter.
	DefaultDepth    int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RateLimit       float64
	RateBurst       int
	Production      bool
}

// Server is the HTTP surface: the public API on one bind, management on
// another.
type Server struct {
	cfg        Config
	expander   Expander
	stats      StatsSource
	api        *gin.Engine
	management *gin.Engine
}

// New creates the server and its routers.
func New(expander Expander, stats StatsSource, cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		expander: expander,
		stats:    stats,
	}
	s.setupRouters()
	return s
}

// Run serves both binds until the context is cancelled, then shuts both
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	apiServer := &http.Server{
		Addr:         s.cfg.APIAddr,
		Handler:      s.api,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	managementServer := &http.Server{
		Addr:    s.cfg.ManagementAddr,
		Handler: s.management,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("api listening", "addr", s.cfg.APIAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("management listening", "addr", s.cfg.ManagementAddr)
		if err := managementServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("management server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("api shutdown", "error", err)
		}
		if err := managementServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("management shutdown", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// APIRouter returns the public router for testing.
func (s *Server) APIRouter() *gin.Engine {
	return s.api
}

// ManagementRouter returns the management router for testing.
func (s *Server) ManagementRouter() *gin.Engine {
	return s.management
}
