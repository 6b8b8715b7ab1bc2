// Package server implements the command server core: a TCP listener that
// frames newline-delimited JSON requests and dispatches them through a
// shared command registry.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"beacon/internal/metrics"
)

// DefaultMaxLineBytes bounds per-connection buffering when the config does
// not say otherwise.
const DefaultMaxLineBytes = 1 << 20

// Options configures a Server. Logger is required; Metrics may be nil.
type Options struct {
	Host         string
	Port         int
	MaxLineBytes int
	IdleTimeout  time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Server owns the accept endpoint and the command registry. Handlers are
// registered by built-ins at startup and by plugins at any time; each
// accepted connection reads, dispatches, and writes on its own goroutine.
type Server struct {
	opts Options
	log  *slog.Logger
	reg  *registry

	mu      sync.Mutex
	ln      net.Listener
	conns   map[*Conn]struct{}
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Server{
		opts:  opts,
		log:   opts.Logger,
		reg:   newRegistry(),
		conns: make(map[*Conn]struct{}),
	}
}

// RegisterHandler inserts or replaces the handler for name; the last
// registration wins.
func (s *Server) RegisterHandler(name string, h Handler) {
	s.reg.register(name, h, "")
}

// OwnedRegistrar returns a Registrar that tags every registration with
// owner, so RemoveOwner can later drop them as a unit. The plugin loader
// hands one of these to each module it initializes.
func (s *Server) OwnedRegistrar(owner string) Registrar {
	return ownedRegistrar{srv: s, owner: owner}
}

type ownedRegistrar struct {
	srv   *Server
	owner string
}

func (r ownedRegistrar) RegisterHandler(name string, h Handler) {
	r.srv.reg.register(name, h, r.owner)
}

// RemoveOwner drops every handler registered under owner and reports how
// many were removed.
func (s *Server) RemoveOwner(owner string) int {
	return s.reg.removeOwner(owner)
}

// Handlers returns the registered command names, sorted.
func (s *Server) Handlers() []string {
	names := s.reg.names()
	sort.Strings(names)
	return names
}

// Listen binds the accept endpoint. It fails if the address cannot be
// reserved (already in use, insufficient privilege, invalid address).
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.opts.Host, fmt.Sprintf("%d", s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("Command server listening", "addr", ln.Addr())
	return nil
}

// Addr reports the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until Stop. Accept errors are logged and
// retried with a growing backoff, so a persistent failure such as fd
// exhaustion cannot spin the loop hot; only a closed listener ends it.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server: Serve called before Listen")
	}

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > time.Second {
				delay = time.Second
			}
			s.log.Error("Accept error", "err", err, "retry_in", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0
		s.startConn(conn)
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) startConn(nc net.Conn) {
	c := newConn(nc, s)

	// Registration and the wg.Add happen under the same lock Stop takes, so
	// a connection accepted concurrently with Stop is either drained by it
	// or rejected here; it can never slip past the wait.
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.opts.Metrics.ConnOpened()
	s.log.Debug("Connection accepted", "addr", nc.RemoteAddr())

	go func() {
		defer s.wg.Done()
		defer s.dropConn(c)
		c.run()
	}()
}

func (s *Server) dropConn(c *Conn) {
	c.Close()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.opts.Metrics.ConnClosed()
	s.log.Debug("Connection closed", "addr", c.RemoteAddr())
}

// Stop closes the listener and all live connections, then waits for every
// connection goroutine to return. After Stop no handler is in flight, which
// is what makes unloading plugin modules safe.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.ln != nil {
			err = s.ln.Close()
		}
		conns := make([]*Conn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			c.Close()
		}
		s.wg.Wait()
	})
	return err
}
