package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/burrowdb/burrow/pkg/log"
	"github.com/burrowdb/burrow/pkg/metrics"
	"github.com/burrowdb/burrow/pkg/tbm"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults for the listener and the session pool.
const (
	DefaultAddr    = ":9999"
	defaultWorkers = 16
	defaultQueue   = 64
)

// Server accepts client connections and runs their statements against
// the table manager. Each session is handled by a worker from a
// bounded pool; requests and responses are hex-encoded frames, one
// per line.
type Server struct {
	tbm  tbm.TableManager
	addr string

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Transporter]struct{}
	closed   bool

	pool   *pool
	logger zerolog.Logger
}

// New builds a server for addr over the given table manager.
func New(addr string, t tbm.TableManager) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{
		tbm:      t,
		addr:     addr,
		sessions: make(map[*Transporter]struct{}),
		pool:     newPool(defaultWorkers, defaultQueue),
		logger:   log.WithComponent("server"),
	}
}

// Addr reports the bound listen address, empty until the listener is
// up. Useful when the configured address picks an ephemeral port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ListenAndServe blocks accepting connections until Close.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Str("addr", s.addr).Msg("listening")
	metrics.RegisterComponent("server", true, "listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			s.logger.Error().Err(err).Msg("accept")
			continue
		}
		session := NewTransporter(conn)
		s.track(session)
		s.pool.Submit(func() { s.serve(session) })
	}
}

func (s *Server) track(t *Transporter) {
	s.mu.Lock()
	s.sessions[t] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(t *Transporter) {
	s.mu.Lock()
	delete(s.sessions, t)
	s.mu.Unlock()
}

// serve runs one session until the peer hangs up.
func (s *Server) serve(t *Transporter) {
	id := uuid.NewString()
	logger := log.WithSession(id)
	logger.Info().Msg("session opened")
	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()

	exec := NewExecutor(s.tbm, logger)
	defer func() {
		exec.Close()
		t.Close()
		s.untrack(t)
		metrics.SessionsActive.Dec()
		logger.Info().Msg("session closed")
	}()

	for {
		frame, err := t.Receive()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn().Err(err).Msg("receive")
			}
			return
		}
		sql, err := Decode(frame)
		if err != nil {
			if serr := t.Send(Encode(nil, err)); serr != nil {
				return
			}
			continue
		}

		out, err := exec.Execute(string(sql))
		if err != nil {
			logger.Debug().Err(err).Msg("statement failed")
		}
		if serr := t.Send(Encode(out, err)); serr != nil {
			logger.Warn().Err(serr).Msg("send")
			return
		}
	}
}

// Close stops accepting, closes every live session and drains the
// pool.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	open := make([]*Transporter, 0, len(s.sessions))
	for t := range s.sessions {
		open = append(open, t)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, t := range open {
		t.Close()
	}
	s.pool.Close()
	return nil
}
