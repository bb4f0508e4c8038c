package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitForEvent(t *testing.T, events <-chan Event, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func sseSnapshot(w http.ResponseWriter, body string) {
	_, _ = io.WriteString(w, "event: snapshot\ndata: "+body+"\n\n")
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestLiveUpdatesDeliversSnapshotsAndReconnects(t *testing.T) {
	var conns atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		sseSnapshot(w, fmt.Sprintf(`{"projects":[{"name":"p%d"}],"devices":[]}`, n))
		// Returning drops the stream; the supervisor must reconnect.
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sup := NewSupervisor(Config{BaseURL: srv.URL, RetryInterval: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartLiveUpdates(ctx)
	defer sup.CloseAll()

	first := waitForEvent(t, sup.Events(), func(ev Event) bool {
		_, ok := ev.(SnapshotEvent)
		return ok
	}).(SnapshotEvent)
	if len(first.Snapshot.Projects) != 1 || first.Snapshot.Projects[0].Name != "p1" {
		t.Fatalf("unexpected first snapshot: %+v", first.Snapshot)
	}

	waitForEvent(t, sup.Events(), func(ev Event) bool {
		w, ok := ev.(WarningEvent)
		return ok && w.Source == SourceLive && w.Kind == FailureTransport
	})

	second := waitForEvent(t, sup.Events(), func(ev Event) bool {
		_, ok := ev.(SnapshotEvent)
		return ok
	}).(SnapshotEvent)
	if second.Snapshot.Projects[0].Name != "p2" {
		t.Fatalf("expected snapshot from reconnected stream, got %+v", second.Snapshot)
	}
	if conns.Load() < 2 {
		t.Fatalf("expected a reconnect, saw %d connections", conns.Load())
	}
}

func TestLiveUpdatesStartIsIdempotent(t *testing.T) {
	var conns atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		sseSnapshot(w, `{"projects":[],"devices":[]}`)
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sup := NewSupervisor(Config{BaseURL: srv.URL, RetryInterval: 20 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartLiveUpdates(ctx)
	sup.StartLiveUpdates(ctx)
	defer sup.CloseAll()

	waitForEvent(t, sup.Events(), func(ev Event) bool {
		_, ok := ev.(SnapshotEvent)
		return ok
	})
	if got := conns.Load(); got != 1 {
		t.Fatalf("expected a single live connection, got %d", got)
	}
}

func TestLiveUpdatesRespectsRetryLimit(t *testing.T) {
	var conns atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		conns.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sup := NewSupervisor(Config{BaseURL: srv.URL, RetryInterval: 10 * time.Millisecond, RetryLimit: 2}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartLiveUpdates(ctx)
	defer sup.CloseAll()

	waitForEvent(t, sup.Events(), func(ev Event) bool {
		w, ok := ev.(WarningEvent)
		return ok && w.Err != nil && strings.Contains(w.Err.Error(), "giving up")
	})
	waitForEvent(t, sup.Events(), func(ev Event) bool {
		st, ok := ev.(StatusEvent)
		return ok && st.Source == SourceLive && st.State == StateClosed
	})
	if got := conns.Load(); got != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", got)
	}
}

// wsHub upgrades inbound sockets and tracks them by request path.
type wsHub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	open     map[string]*websocket.Conn
	opened   chan string
}

func newWSHub() *wsHub {
	return &wsHub{open: map[string]*websocket.Conn{}, opened: make(chan string, 16)}
}

// ServeHTTP keys sockets by the escaped request path so that device
// ports containing slashes stay addressable.
func (h *wsHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.EscapedPath()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.open[path] = conn
	h.mu.Unlock()
	h.opened <- path
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.mu.Lock()
	if h.open[path] == conn {
		delete(h.open, path)
	}
	h.mu.Unlock()
}

func (h *wsHub) send(t *testing.T, path, payload string) {
	t.Helper()
	h.mu.Lock()
	conn := h.open[path]
	h.mu.Unlock()
	if conn == nil {
		t.Fatalf("no open socket at %s", path)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (h *wsHub) openCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.open)
}

func newSocketServer(t *testing.T) (*wsHub, *Supervisor, context.Context) {
	t.Helper()
	hub := newWSHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	sup := NewSupervisor(Config{BaseURL: srv.URL, RetryInterval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		sup.CloseAll()
		cancel()
	})
	return hub, sup, ctx
}

func TestOpenBuildChannelReplacesPrevious(t *testing.T) {
	hub, sup, ctx := newSocketServer(t)

	sup.OpenBuildChannel(ctx, "alpha")
	if path := <-hub.opened; path != "/ws/build/alpha" {
		t.Fatalf("unexpected path %s", path)
	}
	sup.OpenBuildChannel(ctx, "beta")
	if path := <-hub.opened; path != "/ws/build/beta" {
		t.Fatalf("unexpected path %s", path)
	}

	if project, ok := sup.BuildProject(); !ok || project != "beta" {
		t.Fatalf("expected build channel scoped to beta, got %q ok=%v", project, ok)
	}
	// The first socket must be torn down before (not alongside) the second.
	deadline := time.Now().Add(2 * time.Second)
	for hub.openCount() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.openCount(); got != 1 {
		t.Fatalf("expected exactly one open build socket, got %d", got)
	}

	hub.send(t, "/ws/build/beta", `{"type":"build_start","timestamp":"2026-02-13T10:00:00Z"}`)
	ev := waitForEvent(t, sup.Events(), func(ev Event) bool {
		_, ok := ev.(ProgressEvent)
		return ok
	}).(ProgressEvent)
	if ev.Project != "beta" || ev.Event.Type != "build_start" {
		t.Fatalf("unexpected progress event: %+v", ev)
	}
}

func TestBuildChannelSurfacesProtocolFailureAndContinues(t *testing.T) {
	hub, sup, ctx := newSocketServer(t)

	sup.OpenBuildChannel(ctx, "alpha")
	<-hub.opened

	hub.send(t, "/ws/build/alpha", `{"type":"reboot"}`)
	waitForEvent(t, sup.Events(), func(ev Event) bool {
		w, ok := ev.(WarningEvent)
		return ok && w.Kind == FailureProtocol
	})

	hub.send(t, "/ws/build/alpha", `{"type":"build_complete","timestamp":"2026-02-13T10:00:00Z","success":true}`)
	ev := waitForEvent(t, sup.Events(), func(ev Event) bool {
		_, ok := ev.(ProgressEvent)
		return ok
	}).(ProgressEvent)
	if !ev.Event.Success {
		t.Fatalf("expected successful completion after discarded message, got %+v", ev)
	}
}

func TestToggleLogChannelSymmetry(t *testing.T) {
	hub, sup, ctx := newSocketServer(t)

	if started := sup.ToggleLogChannel(ctx, "/dev/ttyUSB0"); !started {
		t.Fatal("first toggle should start the tail")
	}
	<-hub.opened
	if port, ok := sup.TailingPort(); !ok || port != "/dev/ttyUSB0" {
		t.Fatalf("expected tail for /dev/ttyUSB0, got %q ok=%v", port, ok)
	}

	if started := sup.ToggleLogChannel(ctx, "/dev/ttyUSB0"); started {
		t.Fatal("second toggle for the same port should stop the tail")
	}
	if _, ok := sup.TailingPort(); ok {
		t.Fatal("expected no tail after toggle off")
	}
}

func TestToggleLogChannelReplacesOtherPort(t *testing.T) {
	hub, sup, ctx := newSocketServer(t)

	if started := sup.ToggleLogChannel(ctx, "/dev/ttyUSB0"); !started {
		t.Fatal("expected tail started")
	}
	<-hub.opened
	if started := sup.ToggleLogChannel(ctx, "/dev/ttyACM1"); !started {
		t.Fatal("toggling a different port should start its tail")
	}
	<-hub.opened

	if port, _ := sup.TailingPort(); port != "/dev/ttyACM1" {
		t.Fatalf("expected tail moved to /dev/ttyACM1, got %q", port)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.openCount() > 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.openCount(); got != 1 {
		t.Fatalf("expected one open log socket, got %d", got)
	}
}

func TestLogLinesForwardedVerbatim(t *testing.T) {
	hub, sup, ctx := newSocketServer(t)

	sup.ToggleLogChannel(ctx, "/dev/ttyUSB0")
	<-hub.opened
	hub.send(t, "/ws/logs/%2Fdev%2FttyUSB0", "[10:00:01] booting\n")

	ev := waitForEvent(t, sup.Events(), func(ev Event) bool {
		_, ok := ev.(LogLineEvent)
		return ok
	}).(LogLineEvent)
	if ev.Port != "/dev/ttyUSB0" || ev.Line != "[10:00:01] booting" {
		t.Fatalf("unexpected log event: %+v", ev)
	}
}

func TestCloseAllTearsDownEverything(t *testing.T) {
	hub, sup, ctx := newSocketServer(t)

	sup.OpenBuildChannel(ctx, "alpha")
	<-hub.opened
	sup.ToggleLogChannel(ctx, "/dev/ttyUSB0")
	<-hub.opened

	sup.CloseAll()

	if _, ok := sup.BuildProject(); ok {
		t.Fatal("build channel should be gone")
	}
	if _, ok := sup.TailingPort(); ok {
		t.Fatal("log channel should be gone")
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.openCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := hub.openCount(); got != 0 {
		t.Fatalf("expected all sockets closed, got %d", got)
	}
}

func TestBuildDialFailureIsWarningNotRetry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening

	sup := NewSupervisor(Config{BaseURL: srv.URL, RetryInterval: 10 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sup.CloseAll()

	sup.OpenBuildChannel(ctx, "alpha")
	waitForEvent(t, sup.Events(), func(ev Event) bool {
		w, ok := ev.(WarningEvent)
		return ok && w.Source == SourceBuild && w.Kind == FailureTransport
	})
	waitForEvent(t, sup.Events(), func(ev Event) bool {
		st, ok := ev.(StatusEvent)
		return ok && st.Source == SourceBuild && st.State == StateClosed
	})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := sup.BuildProject(); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("failed build channel must not linger")
}
