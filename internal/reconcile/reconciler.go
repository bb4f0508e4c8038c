// Package reconcile merges server pushes into the session state store.
// It is the only writer of server-derived state: the dashboard loop feeds
// every inbound channel event through Apply, and local edits stay
// untouched because snapshots never write file buffers.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/espkit/esphub/internal/api"
	"github.com/espkit/esphub/internal/channel"
	"github.com/espkit/esphub/internal/logstore"
	"github.com/espkit/esphub/internal/notify"
	"github.com/espkit/esphub/internal/state"
)

// Refresher pulls a fresh full snapshot on demand. Implemented by the hub
// client; terminal build events trigger a refresh so derived project
// fields (last success, error counts) converge without waiting for the
// next push.
type Refresher interface {
	Snapshot(ctx context.Context) (api.Snapshot, error)
}

// Recorder archives log lines and finished builds. Optional; archival
// failures are logged and swallowed.
type Recorder interface {
	AppendLogLine(ctx context.Context, entry logstore.LogLine) error
	AppendBuildRecord(ctx context.Context, rec logstore.BuildRecord) error
}

type Reconciler struct {
	store     *state.Store
	sink      *notify.Sink
	refresher Refresher
	recorder  Recorder
	log       *slog.Logger
	now       func() time.Time
}

func NewReconciler(store *state.Store, sink *notify.Sink, refresher Refresher, recorder Recorder, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		store:     store,
		sink:      sink,
		refresher: refresher,
		recorder:  recorder,
		log:       logger,
		now:       time.Now,
	}
}

func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}

// Apply routes one inbound channel event to the right merge rule.
func (r *Reconciler) Apply(ctx context.Context, ev channel.Event) {
	switch ev := ev.(type) {
	case channel.SnapshotEvent:
		r.ApplySnapshot(ev.Snapshot)
	case channel.ProgressEvent:
		if r.ApplyProgress(ctx, ev.Event) {
			r.Refresh(ctx)
		}
	case channel.LogLineEvent:
		r.ApplyLogLine(ctx, ev.Port, ev.Line)
	case channel.WarningEvent:
		r.ApplyWarning(ev)
	case channel.StatusEvent:
		r.applyStatus(ev)
	}
}

// ApplySnapshot replaces the project and device lists. Open file buffers
// are never written here: an edited buffer survives every snapshot, and
// snapshots are idempotent. A vanished active project is always cleared;
// unsaved edits referencing it stay in their buffers and get a warning.
func (r *Reconciler) ApplySnapshot(snap api.Snapshot) {
	r.store.ReplaceProjects(snap.Projects)
	r.store.ReplaceDevices(snap.Devices)

	active := r.store.ActiveProject()
	if active == "" {
		return
	}
	if _, ok := r.store.Project(active); ok {
		return
	}
	if r.store.HasModifiedFor(active) {
		r.sink.Post(notify.ClassNotice, notify.LevelWarn,
			fmt.Sprintf("project %s is gone from the hub; unsaved edits kept", active))
	}
	r.store.SetActiveProject("")
}

// ApplyProgress updates the progress banner and, for terminal events,
// posts the outcome and archives it. Returns true when the caller should
// refresh the snapshot to pick up derived project fields.
func (r *Reconciler) ApplyProgress(ctx context.Context, ev api.ProgressEvent) bool {
	status := state.ProgressStatus{
		Kind:    ev.Type,
		Project: ev.Project,
		At:      r.now(),
	}

	switch ev.Type {
	case api.BuildStart:
		status.Busy = true
		status.Message = fmt.Sprintf("building %s", ev.Project)
	case api.DeployStart:
		status.Busy = true
		status.Message = fmt.Sprintf("deploying %s to %s", ev.Project, ev.Port)
	case api.BuildComplete:
		if ev.Success {
			status.Message = fmt.Sprintf("build of %s succeeded: %d files, %d bytes in %.1fs",
				ev.Project, ev.FilesProcessed, ev.TotalSize, ev.BuildSeconds)
			r.sink.Post(notify.ClassNotice, notify.LevelInfo, status.Message)
		} else {
			status.Message = fmt.Sprintf("build of %s failed: %s", ev.Project, ev.Detail)
			r.sink.Post(notify.ClassNotice, notify.LevelError, status.Message)
		}
	case api.DeployComplete:
		if ev.Success {
			status.Message = fmt.Sprintf("deployed %s to %s", ev.Project, ev.Port)
			r.sink.Post(notify.ClassNotice, notify.LevelInfo, status.Message)
		} else {
			status.Message = fmt.Sprintf("deploy of %s failed: %s", ev.Project, ev.Detail)
			r.sink.Post(notify.ClassNotice, notify.LevelError, status.Message)
		}
	case api.BuildError, api.DeployError:
		status.Message = fmt.Sprintf("%s: %s", ev.Type, ev.Detail)
		r.sink.Post(notify.ClassNotice, notify.LevelError, status.Message)
	default:
		// Unknown kinds were already rejected at the channel boundary.
		return false
	}

	r.store.SetProgress(status)
	if status.Busy {
		r.sink.Post(notify.ClassProgress, notify.LevelInfo, status.Message)
	} else {
		r.sink.Clear(notify.ClassProgress)
	}

	if !ev.Type.Terminal() {
		return false
	}
	r.record(ctx, ev)
	return true
}

func (r *Reconciler) record(ctx context.Context, ev api.ProgressEvent) {
	if r.recorder == nil {
		return
	}
	action := logstore.ActionBuild
	if ev.Type == api.DeployComplete || ev.Type == api.DeployError {
		action = logstore.ActionDeploy
	}
	completed := ev.Type == api.BuildComplete || ev.Type == api.DeployComplete
	rec := logstore.BuildRecord{
		Project:    ev.Project,
		Action:     action,
		Success:    completed && ev.Success,
		Detail:     ev.Detail,
		Port:       ev.Port,
		Seconds:    ev.BuildSeconds,
		Warnings:   len(ev.Warnings),
		FinishedAt: ev.Timestamp,
	}
	if err := r.recorder.AppendBuildRecord(ctx, rec); err != nil {
		r.log.Warn("archive build record failed", "project", ev.Project, "error", err)
	}
}

// Refresh pulls a full snapshot and merges it. A failed refresh is a
// notice, not a fatal error; the live stream will deliver the next one.
func (r *Reconciler) Refresh(ctx context.Context) {
	snap, err := r.refresher.Snapshot(ctx)
	if err != nil {
		r.log.Warn("snapshot refresh failed", "error", err)
		r.sink.Post(notify.ClassNotice, notify.LevelWarn, fmt.Sprintf("refresh failed: %v", err))
		return
	}
	r.ApplySnapshot(snap)
}

// ApplyLogLine archives one tailed line. Display happens upstream; the
// store holds no log buffer.
func (r *Reconciler) ApplyLogLine(ctx context.Context, port, line string) {
	if r.recorder == nil {
		return
	}
	entry := logstore.LogLine{Port: port, Line: line, LoggedAt: r.now()}
	if err := r.recorder.AppendLogLine(ctx, entry); err != nil {
		r.log.Warn("archive log line failed", "port", port, "error", err)
	}
}

// ApplyWarning surfaces a channel failure as a notice. Protocol failures
// mean a single message was discarded; transport failures mean the
// channel dropped.
func (r *Reconciler) ApplyWarning(ev channel.WarningEvent) {
	level := notify.LevelWarn
	if ev.Kind == channel.FailureTransport {
		level = notify.LevelError
	}
	r.log.Warn("channel warning", "source", ev.Source, "kind", ev.Kind, "error", ev.Err)
	r.sink.Post(notify.ClassNotice, level, fmt.Sprintf("%v", ev.Err))
}

func (r *Reconciler) applyStatus(ev channel.StatusEvent) {
	if ev.Source != channel.SourceLive {
		return
	}
	switch ev.State {
	case channel.StateRetrying:
		r.sink.Post(notify.ClassNotice, notify.LevelWarn,
			fmt.Sprintf("live updates lost; retrying (attempt %d)", ev.Attempt))
	case channel.StateClosed:
		r.sink.Post(notify.ClassNotice, notify.LevelError, "live updates stopped")
	}
}
