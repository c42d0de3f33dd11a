// Package debugserver exposes a small read-only HTTP surface for
// operators: health, the background-session list, and the registered tool
// names. It is never the frontend control plane; that speaks JSON-RPC over
// stdio and lives outside the core.
package debugserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/process"
	"github.com/crabmiau/loaf/internal/tools"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server wraps the gin router and its http.Server.
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
}

// New builds the debug server against the live session manager and tool
// registry. debugMode keeps gin's verbose logging; production runs release
// mode.
func New(port int, manager *process.Manager, registry *tools.Registry, debugMode bool, log *logger.Logger) *Server {
	if !debugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "loaf"})
	})

	router.GET("/sessions", func(c *gin.Context) {
		infos := manager.List()
		out := make([]gin.H, 0, len(infos))
		for _, info := range infos {
			entry := gin.H{
				"id":            info.ID,
				"name":          info.Name,
				"status":        string(info.Status),
				"transport":     string(info.Transport),
				"shell_tag":     info.ShellTag,
				"pid":           info.Pid,
				"cwd":           info.WorkingDir,
				"cols":          info.Cols,
				"rows":          info.Rows,
				"created_at":    info.CreatedAt,
				"last_activity": info.LastActivity,
			}
			if info.ExitCode != nil {
				entry["exit_code"] = *info.ExitCode
			}
			out = append(out, entry)
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	router.GET("/tools", func(c *gin.Context) {
		defs := registry.List()
		names := make([]string, 0, len(defs))
		for _, d := range defs {
			names = append(names, d.Name)
		}
		c.JSON(http.StatusOK, gin.H{"tools": names})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: log.WithFields(zap.String("component", "debugserver")),
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens in a background goroutine until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("debug server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("debug server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
