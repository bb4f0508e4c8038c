package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/espkit/esphub/internal/api"
)

// runSocket drives one transient WebSocket (build progress or log tail).
// Transient channels are one-shot: a transport failure is surfaced as a
// warning and the channel stays down until the user acts again.
func (s *Supervisor) runSocket(ctx context.Context, source Source, key, path string) {
	s.emit(ctx, StatusEvent{Source: source, Key: key, State: StateConnecting})

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, wsURL(s.cfg.BaseURL)+path, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close() //nolint:errcheck
		}
		if ctx.Err() == nil {
			s.emit(ctx, WarningEvent{
				Source: source,
				Key:    key,
				Kind:   FailureTransport,
				Err:    fmt.Errorf("open %s channel for %s: %w", source, key, err),
			})
		}
		s.emit(ctx, StatusEvent{Source: source, Key: key, State: StateClosed})
		return
	}
	defer conn.Close() //nolint:errcheck

	// Unblock the read loop when the channel is torn down.
	go func() {
		<-ctx.Done()
		conn.Close() //nolint:errcheck
	}()

	s.emit(ctx, StatusEvent{Source: source, Key: key, State: StateOpen})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// A normal close is how the server ends a finished build's
			// progress stream; only abnormal drops warrant a warning.
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(ctx, WarningEvent{
					Source: source,
					Key:    key,
					Kind:   FailureTransport,
					Err:    fmt.Errorf("%s channel for %s dropped: %w", source, key, err),
				})
			}
			s.emit(ctx, StatusEvent{Source: source, Key: key, State: StateClosed})
			return
		}
		s.handleSocketMessage(ctx, source, key, data)
	}
}

func (s *Supervisor) handleSocketMessage(ctx context.Context, source Source, key string, data []byte) {
	switch source {
	case SourceBuild:
		ev, err := api.ParseProgressEvent(data)
		if err != nil {
			s.emit(ctx, WarningEvent{Source: source, Key: key, Kind: FailureProtocol, Err: err})
			return
		}
		if ev.Project == "" {
			ev.Project = key
		}
		s.emit(ctx, ProgressEvent{Project: key, Event: ev})
	case SourceLog:
		// Log lines are opaque text, forwarded verbatim.
		s.emit(ctx, LogLineEvent{Port: key, Line: strings.TrimRight(string(data), "\r\n")})
	}
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	}
	return baseURL
}
