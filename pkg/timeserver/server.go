package timeserver

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/syncpool/pkg/core"
)

// Config configures the TCP time server.
type Config struct {
	Addr string
	// MaxConns bounds concurrent connections; 0 means unlimited.
	MaxConns int
	// ReadTimeout is the idle time allowed between request lines.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MaxLineBytes bounds one request line.
	MaxLineBytes int
	// Now is the clock used for answers; nil means time.Now.
	Now func() time.Time
	// Recorder counts answered queries; nil disables counting.
	Recorder QueryRecorder
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig(addr string) Config {
	if addr == "" {
		addr = "127.0.0.1:5000"
	}
	return Config{
		Addr:         addr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Second,
		MaxLineBytes: 1024,
	}
}

// Stats is a snapshot of server counters.
type Stats struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
	Active   int64 `json:"active"`
	Handled  int64 `json:"handled"`
	Errors   int64 `json:"errors"`
	Queries  int64 `json:"queries"`
}

// Server answers time queries over TCP, one goroutine per connection.
type Server struct {
	config Config
	logger core.Logger

	mu       sync.RWMutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopping atomic.Bool
	wg       sync.WaitGroup

	accepted atomic.Int64
	rejected atomic.Int64
	active   atomic.Int64
	handled  atomic.Int64
	errs     atomic.Int64
	queries  atomic.Int64
}

// NewServer creates a server. Zero config fields take their defaults.
func NewServer(config Config, logger core.Logger) *Server {
	def := DefaultConfig(config.Addr)
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = def.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.MaxLineBytes <= 0 {
		config.MaxLineBytes = def.MaxLineBytes
	}
	if config.MaxConns < 0 {
		config.MaxConns = 0
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if logger == nil {
		logger = core.Named("timeserver")
	}

	return &Server{
		config: config,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Addr returns the actual listening address (useful when Addr ends in ":0").
// Returns empty string if not currently listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens and runs the accept loop. It blocks until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln. It blocks until Stop is called. If Stop
// already ran, ln is closed and Serve returns at once.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.stopping.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.logger.Infof("time server listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.accepted.Add(1)
		if !s.tryAcquireConnSlot() {
			s.rejected.Add(1)
			_ = conn.Close()
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to return.
func (s *Server) Stop() error {
	s.stopping.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}

// Stats returns current server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted: s.accepted.Load(),
		Rejected: s.rejected.Load(),
		Active:   s.active.Load(),
		Handled:  s.handled.Load(),
		Errors:   s.errs.Load(),
		Queries:  s.queries.Load(),
	}
}

func (s *Server) tryAcquireConnSlot() bool {
	if s.config.MaxConns <= 0 {
		s.active.Add(1)
		return true
	}
	for {
		cur := s.active.Load()
		if int(cur) >= s.config.MaxConns {
			return false
		}
		if s.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		// Stop may already have swept the open connections.
		if s.stopping.Load() {
			_ = conn.Close()
		}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	session := core.NewID()
	defer func() {
		_ = conn.Close()
		s.track(conn, false)
		s.active.Add(-1)
		s.handled.Add(1)
		s.wg.Done()
	}()
	// A panic in one session must not take the server down.
	defer func() {
		if r := recover(); r != nil {
			s.errs.Add(1)
			s.logger.Errorf("session %s: panic (isolated): %v", session, r)
		}
	}()

	s.logger.Debugf("session %s: open from %s", session, conn.RemoteAddr())
	if err := s.handle(conn, session); err != nil && !s.stopping.Load() {
		s.errs.Add(1)
		s.logger.Errorf("session %s: %v", session, err)
	}
	s.logger.Debugf("session %s: closed", session)
}

// handle answers request lines until EOF or a blank line.
func (s *Server) handle(conn net.Conn, session string) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), s.config.MaxLineBytes)
	w := bufio.NewWriter(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			return nil
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			return nil
		}
		s.logger.Debugf("session %s: received %q", session, line)

		ok := IsQuery(line)
		s.queries.Add(1)
		s.config.Recorder.RecordQuery("tcp", ok)

		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if _, err := w.WriteString(Answer(line, s.config.Now()) + "\n"); err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
}
