package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sameehj/shellmcp/pkg/mcp"
)

// Server accepts TCP connections and runs one MCP session per connection.
// Every session shares the same dispatcher, policy and executor.
type Server struct {
	addr        string
	mcpServer   *mcp.Server
	authorizer  Authorizer
	maxSessions int
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewServer(addr string, mcpServer *mcp.Server, authorizer Authorizer) *Server {
	if authorizer == nil {
		authorizer = NoopAuthorizer{}
	}
	return &Server{addr: addr, mcpServer: mcpServer, authorizer: authorizer, sessions: make(map[string]*Session)}
}

func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

func (s *Server) SetMaxSessions(max int) {
	s.maxSessions = max
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections from listener until ctx is done. It closes the
// listener and waits for open sessions to finish before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.addr = listener.Addr().String()
	s.logInfo("gateway_listening", "addr", s.addr)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = listener.Close()
		case <-stop:
		}
	}()
	defer listener.Close()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeSessions()
				s.wg.Wait()
				return nil
			}
			s.logError("accept_failed", "error", err)
			return err
		}
		s.accept(ctx, conn)
	}
}

func (s *Server) accept(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()

	if s.maxSessions > 0 && s.sessionCount() >= s.maxSessions {
		s.logWarn("session_limit_reached", "remote", remote, "limit", s.maxSessions)
		_ = conn.Close()
		return
	}

	if err := s.authorizer.Allow(ctx, remote); err != nil {
		s.logWarn("session_denied", "remote", remote, "error", err)
		_ = conn.Close()
		return
	}

	session := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remote,
		StartedAt:  time.Now(),
		conn:       conn,
	}
	s.register(session)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregister(session.ID)
		defer conn.Close()
		defer func() {
			if r := recover(); r != nil {
				s.logError("session_panic", "id", session.ID, "panic", fmt.Sprint(r))
			}
		}()

		s.logInfo("session_start", "id", session.ID, "remote", session.RemoteAddr)
		if err := s.mcpServer.Serve(ctx, conn, conn); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logWarn("session_error", "id", session.ID, "error", err)
		}
		s.logInfo("session_end", "id", session.ID, "remote", session.RemoteAddr, "duration_ms", time.Since(session.StartedAt).Milliseconds())
	}()
}

func (s *Server) register(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
}

func (s *Server) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		_ = session.conn.Close()
	}
}

func (s *Server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ListSessions returns the open sessions, oldest first.
func (s *Server) ListSessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) String() string {
	return fmt.Sprintf("gateway(%s)", s.addr)
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
