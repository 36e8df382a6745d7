// Package server wires the gateway's HTTP surface together: route table,
// middleware chain, and graceful shutdown. Grounded on the teacher's
// internal/server/server.go, trimmed of the multi-provider Registry (the
// provider abstraction has no analog once there is exactly one upstream)
// but keeping its graceful-shutdown and address-in-use diagnostics verbatim
// in idiom.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Davincible/anthropic-openai-gateway/internal/config"
	"github.com/Davincible/anthropic-openai-gateway/internal/correlation"
	"github.com/Davincible/anthropic-openai-gateway/internal/eventlog"
	"github.com/Davincible/anthropic-openai-gateway/internal/handlers"
	"github.com/Davincible/anthropic-openai-gateway/internal/middleware"
	"github.com/Davincible/anthropic-openai-gateway/internal/upstream"
)

// Server owns the gateway's listener and its collaborators.
type Server struct {
	config *config.Manager
	store  *correlation.Store
	client *upstream.Client
	logger *slog.Logger
	events *eventlog.Logger
	server *http.Server
}

// New builds a Server. The Correlation Store and upstream Client are built
// here so their lifetime matches the server's. When LOG_EVENTS is set, the
// event-log replay aid is opened too; a failure to open it is logged but
// does not prevent the gateway from starting.
func New(configManager *config.Manager, logger *slog.Logger) *Server {
	cfg := configManager.Get()

	var events *eventlog.Logger
	if cfg.LogEvents {
		l, err := eventlog.Open(cfg.LogDir)
		if err != nil {
			logger.Error("failed to open event log, continuing without it", "dir", cfg.LogDir, "error", err)
		} else {
			events = l
		}
	}

	return &Server{
		config: configManager,
		store:  correlation.New(logger),
		client: upstream.New(cfg.OpenAIAPIKey),
		logger: logger,
		events: events,
	}
}

// Start runs the HTTP server until an interrupt/TERM signal is received,
// then shuts it down gracefully.
func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		// Streaming responses can run far longer than a typical request;
		// shutdown is still bounded by the timeout passed to Shutdown.
		WriteTimeout: 0,
	}

	s.logger.Info("starting server", "address", addr, "upstream_model", cfg.UpstreamModel)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
			if strings.Contains(err.Error(), "address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if err := s.events.Close(); err != nil {
		s.logger.Warn("failed to close event log", "error", err)
	}

	s.logger.Info("server exited")
	return nil
}

// Stop shuts the server down gracefully, waiting up to 5 seconds. The CLI's
// `stop` command does not call it; it signals the gateway process instead.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	messagesHandler := handlers.NewMessagesHandler(s.config, s.store, s.client, s.logger, s.events)
	healthHandler := handlers.NewHealthHandler(s.logger)
	bannerHandler := handlers.NewBannerHandler()
	countTokensHandler := handlers.NewCountTokensHandler(s.logger)
	testConnectionHandler := handlers.NewTestConnectionHandler(s.config, s.client, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.logger)
	chain := middlewareSet.DefaultChain()

	mux.Handle("/health", chain.Handler(healthHandler))
	mux.Handle("/", chain.Handler(bannerHandler))
	mux.Handle("/test-connection", chain.Handler(testConnectionHandler))
	mux.Handle("/v1/messages", chain.Handler(messagesHandler))
	mux.Handle("/v1/messages/count_tokens", chain.Handler(countTokensHandler))

	return mux
}

// handleAddressInUse attempts to find and display the PID using the
// specified address, the same diagnostic the teacher runs before exiting.
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("address already in use", "address", addr)

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		s.logger.Error("port is being used by another process",
			"port", port, "pid", pid, "process", s.getProcessInfo(pid))
	} else {
		s.logger.Error("could not determine which process is using the port", "port", port)
	}
}

func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		s.logger.Warn("unsupported OS for port detection", "os", runtime.GOOS)
		return 0
	}
}

func (s *Server) findProcessUsingPortUnix(port int) int {
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}
	return s.trySS(port)
}

func (s *Server) tryLsof(port int) int {
	if port < 1 || port > 65535 {
		return 0
	}
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))
	output, err := cmd.Output()
	if err != nil {
		return 0
	}
	pidStr := strings.TrimSpace(string(output))
	if pid, err := strconv.Atoi(pidStr); err == nil {
		return pid
	}
	return 0
}

func (s *Server) trySS(port int) int {
	cmd := exec.Command("ss", "-tlnp")
	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.Contains(line, portPattern) || !strings.Contains(line, "LISTEN") {
			continue
		}
		idx := strings.Index(line, "pid=")
		if idx == -1 {
			continue
		}
		pidPart := line[idx+4:]
		if commaIdx := strings.Index(pidPart, ","); commaIdx != -1 {
			if pid, err := strconv.Atoi(pidPart[:commaIdx]); err == nil {
				return pid
			}
		}
	}
	return 0
}

func (s *Server) findProcessUsingPortWindows(port int) int {
	cmd := exec.Command("netstat", "-ano")
	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	portPattern := fmt.Sprintf(":%d ", port)
	for _, line := range strings.Split(string(output), "\n") {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTENING") {
			parts := strings.Fields(line)
			if len(parts) >= 5 {
				if pid, err := strconv.Atoi(parts[4]); err == nil {
					return pid
				}
			}
		}
	}
	return 0
}

func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

func (s *Server) getProcessInfoUnix(pid int) string {
	if pid < 1 || pid > 4194304 {
		return fmt.Sprintf("PID %d (invalid)", pid)
	}
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	output, err := cmd.Output()
	if err == nil {
		if name := strings.TrimSpace(string(output)); name != "" {
			return fmt.Sprintf("%s (PID: %d)", name, pid)
		}
	}
	return fmt.Sprintf("PID: %d", pid)
}

func (s *Server) getProcessInfoWindows(pid int) string {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")
	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 && lines[0] != "" {
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				return fmt.Sprintf("%s (PID: %d)", strings.Trim(parts[0], "\""), pid)
			}
		}
	}
	return fmt.Sprintf("PID: %d", pid)
}
