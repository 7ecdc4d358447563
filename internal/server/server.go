package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kmetzger/chatrelay/internal/config"
	"github.com/kmetzger/chatrelay/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	// large fields first
	listener net.Listener
	logger   *zap.SugaredLogger
	cfg      *config.Config
	registry *registry.Registry
	metrics  *Metrics

	// conns holds every accepted connection, registered or not,
	// keyed by connection id.
	mu    sync.RWMutex
	conns map[string]*client

	// sync types next
	wg sync.WaitGroup

	shuttingDown atomic.Bool
}

// New creates a new Server instance. Metrics registration is skipped
// when the metrics listener is disabled.
func New(cfg *config.Config, logger *zap.SugaredLogger) *Server {
	var reg prometheus.Registerer
	if cfg.MetricsAddr != "" {
		reg = prometheus.DefaultRegisterer
	}
	return &Server{
		logger:   logger,
		cfg:      cfg,
		registry: registry.New(),
		metrics:  NewMetrics(reg),
		conns:    make(map[string]*client),
	}
}

// Listen binds the configured address. The bound address is available
// from Addr afterwards, which matters when the OS assigns the port.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = l
	s.logger.Infof("Listening on %s", l.Addr())
	return nil
}

// Addr returns the listener's bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds and serves. It blocks until Stop closes the listener.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts client connections until the listener closes.
func (s *Server) Serve() error {
	if s.cfg.MetricsAddr != "" {
		go s.serveMetrics()
	}

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil // graceful exit
			}
			s.logger.Errorf("accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.logger.Infof("Metrics listening on %s", s.cfg.MetricsAddr)
	if err := http.ListenAndServe(s.cfg.MetricsAddr, mux); err != nil {
		s.logger.Errorf("metrics listener failed: %v", err)
	}
}

// handleConnection owns the full lifecycle of one accepted connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c := newClient(conn, s)
	s.addConn(c)
	s.metrics.connOpened()
	s.logger.Infof("Client connected: %s", conn.RemoteAddr())

	if err := c.run(); err != nil {
		c.logger.Warnf("Client session ended with error: %v", err)
	}

	registered := s.registry.RemoveByConn(c.id)
	s.removeConn(c.id)
	s.metrics.connClosed(registered)
	c.close()

	s.logger.Infof("Client disconnected: %s", conn.RemoteAddr())
}

func (s *Server) addConn(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// lookupConn resolves a connection id from a registry snapshot. The
// connection may have closed since the snapshot was taken.
func (s *Server) lookupConn(id string) *client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// Stop shuts down the server gracefully.
func (s *Server) Stop(timeout time.Duration) error {
	s.shuttingDown.Store(true)

	s.logger.Info("Shutting down listener...")
	if s.listener != nil {
		s.listener.Close()
	}

	// Closing the connections unblocks every per-connection read loop.
	s.mu.RLock()
	for _, c := range s.conns {
		c.close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed cleanly")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("Shutdown timed out; some clients may still be active")
		return fmt.Errorf("timeout waiting for shutdown")
	}
}
