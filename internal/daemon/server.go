// Package daemon implements cmdinteld, the gRPC server that owns the
// engine and its store and serves every engine operation over a Unix
// socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/rinawarp/cmdintel/internal/engine"
)

// Version is set at build time
var Version = "dev"

// Server serves an Engine over gRPC.
type Server struct {
	engine *engine.Engine

	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	pidPath    string
	logger     *slog.Logger

	// Lifecycle
	startTime     time.Time
	idleTimeout   time.Duration
	pruneInterval time.Duration
	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup

	mu           sync.RWMutex // guards listener and activity
	lastActivity time.Time
	requests     int64
}

// ServerConfig contains configuration options for the daemon server.
type ServerConfig struct {
	// Engine serves every request (required).
	Engine *engine.Engine

	// SocketPath is the Unix socket to listen on. Required by Start.
	SocketPath string

	// PIDPath receives the daemon PID while serving (optional).
	PIDPath string

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger

	// IdleTimeout shuts the daemon down after this long without a
	// request. Zero disables it.
	IdleTimeout time.Duration

	// PruneInterval is how often store capacities are enforced
	// (default: 1h).
	PruneInterval time.Duration

	// ReloadFn is called on SIGHUP. If nil, SIGHUP is ignored.
	ReloadFn ReloadFunc
}

// NewServer creates a new daemon server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = time.Hour
	}

	now := time.Now()
	s := &Server{
		engine:        cfg.Engine,
		socketPath:    cfg.SocketPath,
		pidPath:       cfg.PIDPath,
		logger:        logger,
		startTime:     now,
		lastActivity:  now,
		idleTimeout:   cfg.IdleTimeout,
		pruneInterval: pruneInterval,
		shutdownChan:  make(chan struct{}),
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.activityInterceptor))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s, nil
}

// Start listens on the Unix socket and serves until ctx is canceled or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.socketPath == "" {
		return fmt.Errorf("socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Clean up stale socket
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stale socket", "path", s.socketPath, "error", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Set socket permissions (readable/writable by owner only)
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	if err := s.writePIDFile(); err != nil {
		listener.Close()
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	s.logger.Info("daemon starting",
		"socket", s.socketPath,
		"pid", os.Getpid(),
		"version", Version,
	)
	return s.Serve(ctx, listener)
}

// Serve serves on lis until ctx is canceled or Shutdown is called. The
// engine worker and the maintenance loops run for the duration.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	s.engine.Start()

	s.wg.Add(2)
	go s.watchIdle(ctx)
	go s.pruneLoop(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		} else {
			errChan <- nil
		}
	}()

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errChan
		return nil
	case <-s.shutdownChan:
		s.Shutdown() // waits for the shutdown in progress
		<-errChan
		return nil
	case err := <-errChan:
		s.Shutdown()
		return err
	}
}

// Shutdown stops accepting requests, drains the engine's ingestion queue
// and removes the socket and PID file. It does not close the store.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("daemon shutting down")
		close(s.shutdownChan)

		s.grpcServer.GracefulStop()
		s.wg.Wait()

		if err := s.engine.Close(); err != nil {
			s.logger.Warn("engine close failed", "error", err)
		}
		s.mu.RLock()
		lis := s.listener
		s.mu.RUnlock()
		if lis != nil {
			lis.Close()
		}
		s.cleanup()

		s.logger.Info("daemon stopped", "requests", s.requestCount())
	})
}

// Done is closed once Shutdown has begun.
func (s *Server) Done() <-chan struct{} {
	return s.shutdownChan
}

func (s *Server) cleanup() {
	for _, path := range []string{s.socketPath, s.pidPath} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove runtime file", "path", path, "error", err)
		}
	}
}

func (s *Server) writePIDFile() error {
	if s.pidPath == "" {
		return nil
	}
	return os.WriteFile(s.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600)
}

func (s *Server) activityInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.requests++
	s.mu.Unlock()

	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Debug("request failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	}
	return resp, err
}

func (s *Server) getLastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *Server) requestCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}

// watchIdle shuts the daemon down after idleTimeout without requests.
func (s *Server) watchIdle(ctx context.Context) {
	defer s.wg.Done()
	if s.idleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(min(time.Minute, s.idleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			if since := time.Since(s.getLastActivity()); since > s.idleTimeout {
				s.logger.Info("idle timeout reached",
					"idle_duration", since,
					"timeout", s.idleTimeout,
				)
				go s.Shutdown()
				return
			}
		}
	}
}

// pruneLoop enforces store capacities on startup and then periodically.
func (s *Server) pruneLoop(ctx context.Context) {
	defer s.wg.Done()

	s.prune(ctx)

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			s.prune(ctx)
		}
	}
}

func (s *Server) prune(ctx context.Context) {
	deleted, err := s.engine.Prune(ctx)
	if err != nil {
		s.logger.Warn("prune failed", "error", err)
		return
	}
	var total int64
	for _, n := range deleted {
		total += n
	}
	if total > 0 {
		s.logger.Info("pruned store", "deleted", deleted)
	}
}
