package channel

import (
	"github.com/espkit/esphub/internal/api"
)

// Source identifies which push channel produced an event.
type Source string

const (
	SourceLive  Source = "live"
	SourceBuild Source = "build"
	SourceLog   Source = "log"
)

type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateRetrying   ConnState = "retrying"
	StateClosed     ConnState = "closed"
)

type FailureKind string

const (
	// FailureTransport: the channel could not open or dropped.
	FailureTransport FailureKind = "transport"
	// FailureProtocol: a message did not parse as the expected shape.
	// The offending message is discarded, never fatal.
	FailureProtocol FailureKind = "protocol"
)

// Event is the closed union delivered on the supervisor's outbound
// channel. Consumers switch on the concrete type.
type Event interface {
	EventSource() Source
}

// SnapshotEvent is one complete replacement view from the live stream.
type SnapshotEvent struct {
	Snapshot api.Snapshot
}

func (SnapshotEvent) EventSource() Source { return SourceLive }

// ProgressEvent is one tagged build/deploy event, scoped to Project.
type ProgressEvent struct {
	Project string
	Event   api.ProgressEvent
}

func (ProgressEvent) EventSource() Source { return SourceBuild }

// LogLineEvent is one raw text line from the device identified by Port.
type LogLineEvent struct {
	Port string
	Line string
}

func (LogLineEvent) EventSource() Source { return SourceLog }

// WarningEvent reports a channel failure. Failures are surfaced, never
// thrown: the supervisor keeps running and only the live stream retries.
type WarningEvent struct {
	Source Source
	Key    string
	Kind   FailureKind
	Err    error
}

func (w WarningEvent) EventSource() Source { return w.Source }

// StatusEvent reports a connection state change for one channel.
type StatusEvent struct {
	Source  Source
	Key     string
	State   ConnState
	Attempt int
}

func (s StatusEvent) EventSource() Source { return s.Source }
