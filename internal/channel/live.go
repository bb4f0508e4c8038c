package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/espkit/esphub/internal/api"
)

const (
	liveStreamPath    = "/api/events"
	liveScannerBuffer = 64 * 1024
	liveScannerMax    = 10 * 1024 * 1024
)

// runLive is the retry loop for the live-updates stream. It never gives
// up on its own unless RetryLimit is set; every transport failure becomes
// a warning event followed by a reconnect after RetryInterval.
func (s *Supervisor) runLive(ctx context.Context) {
	attempt := 0
	for {
		attempt++
		s.emit(ctx, StatusEvent{Source: SourceLive, State: StateConnecting, Attempt: attempt})
		connected, err := s.streamLive(ctx)
		if ctx.Err() != nil {
			s.emit(ctx, StatusEvent{Source: SourceLive, State: StateClosed})
			return
		}
		if connected {
			// A stream that opened and later dropped resets the
			// attempt count.
			attempt = 0
		}
		s.emit(ctx, WarningEvent{Source: SourceLive, Kind: FailureTransport, Err: err})
		if s.cfg.RetryLimit > 0 && attempt >= s.cfg.RetryLimit {
			s.log.Warn("live updates gave up", "attempts", attempt)
			s.emit(ctx, WarningEvent{
				Source: SourceLive,
				Kind:   FailureTransport,
				Err:    fmt.Errorf("live updates: giving up after %d attempts", attempt),
			})
			s.emit(ctx, StatusEvent{Source: SourceLive, State: StateClosed})
			return
		}
		s.emit(ctx, StatusEvent{Source: SourceLive, State: StateRetrying, Attempt: attempt})
		if err := sleepWithContext(ctx, s.cfg.RetryInterval); err != nil {
			s.emit(ctx, StatusEvent{Source: SourceLive, State: StateClosed})
			return
		}
	}
}

// streamLive runs one connection of the server-sent-event stream until it
// drops. It returns whether the connection was established at all, and
// the transport error that ended it.
func (s *Supervisor) streamLive(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+liveStreamPath, nil)
	if err != nil {
		return false, fmt.Errorf("live updates request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("connect live updates: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("live updates: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	s.log.Debug("live updates connected")
	s.emit(ctx, StatusEvent{Source: SourceLive, State: StateOpen})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, liveScannerBuffer), liveScannerMax)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		var snap api.Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			s.emit(ctx, WarningEvent{
				Source: SourceLive,
				Kind:   FailureProtocol,
				Err:    fmt.Errorf("decode snapshot: %w", err),
			})
			return
		}
		s.emit(ctx, SnapshotEvent{Snapshot: snap})
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			// the stream carries one event family; the name is ignored
		case strings.HasPrefix(line, "data:"):
			part := strings.TrimPrefix(line, "data:")
			part = strings.TrimPrefix(part, " ")
			dataLines = append(dataLines, part)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("read live updates: %w", err)
	}
	return true, errors.New("live updates: stream ended")
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
