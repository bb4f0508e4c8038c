// Package channel owns the lifecycle of the three push connections: the
// singleton auto-reconnecting live-updates stream, an at-most-one
// build-progress socket, and an at-most-one log-tail socket. Raw inbound
// messages are decoded at the boundary into the Event union and delivered
// on a single outbound channel; the consumer (the dashboard loop) routes
// them through the reconciler.
package channel

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Config struct {
	BaseURL          string
	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	RetryInterval    time.Duration
	RetryLimit       int // 0 = retry forever
	HandshakeTimeout time.Duration
}

const (
	defaultRetryInterval = 5 * time.Second
	eventBuffer          = 64
)

type Supervisor struct {
	cfg    Config
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	live    *conn
	build   *conn
	logTail *conn
}

// conn tracks one running channel goroutine.
type conn struct {
	key    string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.HTTPClient == nil {
		// The live stream is long lived; the client must not carry a
		// global timeout.
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Supervisor{
		cfg:    cfg,
		log:    logger,
		events: make(chan Event, eventBuffer),
	}
}

// Events is the single outbound stream; all channels multiplex onto it.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// StartLiveUpdates opens the live-updates stream if it is not already
// running. The stream reconnects at a fixed interval after transport
// errors, up to RetryLimit attempts (unlimited when zero).
func (s *Supervisor) StartLiveUpdates(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live != nil {
		return
	}
	c := s.startLocked(ctx, &s.live, "")
	go func() {
		defer close(c.done)
		s.runLive(c.ctx)
		s.clear(&s.live, c)
	}()
}

// OpenBuildChannel opens the build-progress socket for projectKey,
// closing any previous build socket first. Open failures surface as
// warning events; there is no automatic reconnect.
func (s *Supervisor) OpenBuildChannel(ctx context.Context, projectKey string) {
	s.mu.Lock()
	prev := s.build
	s.build = nil
	s.mu.Unlock()
	stop(prev)

	s.mu.Lock()
	c := s.startLocked(ctx, &s.build, projectKey)
	s.mu.Unlock()
	go func() {
		defer close(c.done)
		s.runSocket(c.ctx, SourceBuild, projectKey, "/ws/build/"+url.PathEscape(projectKey))
		s.clear(&s.build, c)
	}()
}

// ToggleLogChannel starts tailing devicePort, or stops the tail if one is
// already running for that exact port. Only one log tail may be open;
// toggling a different port replaces the previous tail. Returns true when
// a tail was started, false when one was stopped.
func (s *Supervisor) ToggleLogChannel(ctx context.Context, devicePort string) bool {
	s.mu.Lock()
	prev := s.logTail
	s.logTail = nil
	s.mu.Unlock()
	if prev != nil {
		stop(prev)
		if prev.key == devicePort {
			return false
		}
	}

	s.mu.Lock()
	c := s.startLocked(ctx, &s.logTail, devicePort)
	s.mu.Unlock()
	go func() {
		defer close(c.done)
		s.runSocket(c.ctx, SourceLog, devicePort, "/ws/logs/"+url.PathEscape(devicePort))
		s.clear(&s.logTail, c)
	}()
	return true
}

// TailingPort returns the port of the running log tail, if any.
func (s *Supervisor) TailingPort() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logTail == nil {
		return "", false
	}
	return s.logTail.key, true
}

// BuildProject returns the project key of the running build socket, if any.
func (s *Supervisor) BuildProject() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.build == nil {
		return "", false
	}
	return s.build.key, true
}

// CloseAll deterministically closes every open channel and waits for
// their goroutines to finish. Used on session teardown.
func (s *Supervisor) CloseAll() {
	s.mu.Lock()
	conns := []*conn{s.live, s.build, s.logTail}
	s.live, s.build, s.logTail = nil, nil, nil
	s.mu.Unlock()
	for _, c := range conns {
		stop(c)
	}
}

type runningConn struct {
	*conn
	ctx context.Context
}

func (s *Supervisor) startLocked(parent context.Context, slot **conn, key string) runningConn {
	ctx, cancel := context.WithCancel(parent)
	c := &conn{key: key, cancel: cancel, done: make(chan struct{})}
	*slot = c
	return runningConn{conn: c, ctx: ctx}
}

// clear releases the slot if it still holds c; a replacement may already
// have taken it.
func (s *Supervisor) clear(slot **conn, c runningConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *slot == c.conn {
		*slot = nil
	}
}

func stop(c *conn) {
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
}

// emit delivers ev unless the channel's context ends first. The outbound
// channel is buffered; a consumer that stopped draining only stalls the
// producing goroutine, never the caller thread.
func (s *Supervisor) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
