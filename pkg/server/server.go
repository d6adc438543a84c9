// Package server implements the hallchat server: a line-oriented TCP
// chat service with a shared Hall and invite-only private rooms.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dkroy/hallchat/pkg/accounts"
	"github.com/dkroy/hallchat/pkg/wire"
)

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Accounts and will Close() it on shutdown.
type Dependencies struct {
	Accounts accounts.Store
}

// Server is the main hallchat server.
type Server struct {
	cfg      Config
	accounts accounts.Store
	sessions *SessionTable
	rooms    *RoomRegistry
	invites  *InviteBroker
	metrics  *Metrics
	ln       net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.RWMutex
	connCount int                   // connections currently admitted
	conns     map[uint32]*wire.Conn // SockID -> conn for sending events
}

// New creates a new Server instance.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		accounts: deps.Accounts,
		sessions: NewSessionTable(),
		rooms:    NewRoomRegistry(cfg.RoomCapacity, cfg.MaxRooms),
		invites:  NewInviteBroker(),
		metrics:  NewMetrics(),
		conns:    make(map[uint32]*wire.Conn),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Sessions returns the session table.
func (s *Server) Sessions() *SessionTable {
	return s.sessions
}

// Rooms returns the room registry.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start binds the TCP listener and begins accepting connections in the
// background. It does not block; use Run for the full signal-driven
// lifecycle.
func (s *Server) Start() error {
	if s.accounts == nil {
		return fmt.Errorf("server: missing accounts dependency")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln

	slog.Info("hallchat listening", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	go s.acceptLoop()

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	return nil
}

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server and closes the account store.
func (s *Server) Shutdown() {
	s.cancel()
	if s.ln != nil {
		_ = s.ln.Close()
	}

	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	if s.accounts != nil {
		_ = s.accounts.Close()
	}
}

// acceptLoop admits connections up to the configured cap. Over-cap
// connections get a single rejection line and are closed without ever
// receiving a session.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("accept error", "err", err)
				continue
			}
		}

		s.metrics.TotalConnections.Add(1)

		if !s.admit() {
			s.metrics.RejectedAtCap.Add(1)
			slog.Warn("connection rejected at cap", "remote", conn.RemoteAddr().String())
			wc := wire.NewConn(conn, s.cfg.MaxLineLen)
			_ = wc.WriteLine("Server is full!")
			_ = wc.Close()
			continue
		}

		go s.handleConn(conn)
	}
}

// admit reserves a connection slot, returning false when the server is
// at the cap. The slot is held until release.
func (s *Server) admit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connCount >= s.cfg.MaxConns {
		return false
	}
	s.connCount++
	return true
}

// release frees a connection slot reserved by admit.
func (s *Server) release() {
	s.mu.Lock()
	s.connCount--
	s.mu.Unlock()
}

// registerConn makes a connection addressable by SockID for sends.
func (s *Server) registerConn(id uint32, c *wire.Conn) {
	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
}

// removeConn drops a connection from the send map.
func (s *Server) removeConn(id uint32) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// sendTo delivers one line to a single connection. Send failures are
// logged, not propagated: the reader goroutine owns teardown.
func (s *Server) sendTo(id uint32, format string, args ...any) {
	s.mu.RLock()
	c, ok := s.conns[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.WriteLine(format, args...); err != nil {
		slog.Debug("send failed", "sock_id", id, "err", err)
	}
}

// broadcastHall sends a line to every authenticated Hall member except
// excludeID (0 excludes nobody; SockIDs start at 1).
func (s *Server) broadcastHall(excludeID uint32, format string, args ...any) {
	for _, id := range s.sessions.HallMembers() {
		if id == excludeID {
			continue
		}
		s.sendTo(id, format, args...)
	}
}

// broadcastRoom sends a line to every member of a room except excludeID.
func (s *Server) broadcastRoom(roomID int, excludeID uint32, format string, args ...any) {
	for _, id := range s.rooms.Members(roomID) {
		if id == excludeID {
			continue
		}
		s.sendTo(id, format, args...)
	}
}
