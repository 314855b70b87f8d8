package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/swyddfa/lsp-devtools/api"
	"github.com/swyddfa/lsp-devtools/internal/framing"
	"github.com/swyddfa/lsp-devtools/internal/jsonrpc"
)

// Handler receives every message published by the connected agent.
type Handler func(ctx context.Context, m *api.CapturedMessage)

type notificationHandler func(ctx context.Context, params json.RawMessage) error

// Server serves a single agent connection at a time and decodes the
// messages it publishes.
type Server struct {
	logger   *slog.Logger
	handler  Handler
	handlers map[string]notificationHandler

	mu     sync.Mutex
	active net.Conn
	ln     net.Listener
}

// NewServer creates a Server that passes captured messages to handler.
func NewServer(logger *slog.Logger, handler Handler) *Server {
	s := &Server{logger: logger, handler: handler}
	s.handlers = map[string]notificationHandler{
		api.MessageTextMethod: s.handleMessageText,
	}
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Connections are
// served one at a time; the next agent waits in the listen backlog, unread,
// until the current one disconnects.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.mu.Lock()
		if s.active != nil {
			_ = s.active.Close()
		}
		s.mu.Unlock()
	}()

	s.logger.Info("waiting for agent", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.setActive(conn)
		if ctx.Err() != nil {
			s.release(conn)
			return nil
		}
		s.serveConn(ctx, conn)
		s.release(conn)
	}
}

// Addr returns the listening address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) setActive(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = conn
}

func (s *Server) release(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.Close()
	if s.active == conn {
		s.active = nil
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Info("agent connected", "remote", remote)
	defer s.logger.Info("agent disconnected", "remote", remote)

	r := framing.NewReader(conn)
	for {
		raw, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Warn("closing agent connection", "remote", remote, "error", err)
			}
			return
		}

		msg, err := jsonrpc.Parse(raw.Body)
		if err != nil {
			s.logger.Debug("skipping invalid message", "error", err)
			continue
		}
		h, ok := s.handlers[msg.Method]
		if !ok {
			s.logger.Debug("no handler for method", "method", msg.Method)
			continue
		}
		if err := h(ctx, msg.Params); err != nil {
			s.logger.Debug("skipping message", "method", msg.Method, "error", err)
		}
	}
}

func (s *Server) handleMessageText(ctx context.Context, params json.RawMessage) error {
	var p api.MessageText
	if err := json.Unmarshal(params, &p); err != nil {
		return fmt.Errorf("decoding %s params: %w", api.MessageTextMethod, err)
	}

	m, err := DecodeMessageText(&p)
	if err != nil {
		return err
	}
	if s.handler != nil {
		s.handler(ctx, m)
	}
	return nil
}

// DecodeMessageText turns published params back into a captured message.
// The body must itself be a JSON-RPC message.
func DecodeMessageText(p *api.MessageText) (*api.CapturedMessage, error) {
	source, err := api.ParseSource(string(p.Source))
	if err != nil {
		return nil, err
	}
	ts, err := time.Parse(api.TimestampLayout, p.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", p.Timestamp, err)
	}
	body := []byte(p.Text)
	msg, err := jsonrpc.Parse(body)
	if err != nil {
		return nil, err
	}
	return &api.CapturedMessage{
		Source:    source,
		Session:   p.Session,
		Timestamp: ts,
		Body:      body,
		Message:   msg,
	}, nil
}
