package notify

import (
	"testing"
	"time"
)

func TestPostSupersedesSameClass(t *testing.T) {
	now := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	sink := NewSink(5*time.Second, 10*time.Second).WithClock(func() time.Time { return now })

	sink.Post(ClassNotice, LevelInfo, "first")
	sink.Post(ClassNotice, LevelWarn, "second")

	active := sink.Active()
	if len(active) != 1 {
		t.Fatalf("expected one live notice, got %d", len(active))
	}
	if active[0].Text != "second" || active[0].Level != LevelWarn {
		t.Fatalf("later message must supersede: %+v", active[0])
	}
}

func TestClassesAreIndependent(t *testing.T) {
	now := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	sink := NewSink(5*time.Second, 10*time.Second).WithClock(func() time.Time { return now })

	sink.Post(ClassNotice, LevelInfo, "saved main.py")
	sink.Post(ClassProgress, LevelInfo, "building blinky")

	active := sink.Active()
	if len(active) != 2 {
		t.Fatalf("expected both classes live, got %d", len(active))
	}
	if active[0].Class != ClassNotice || active[1].Class != ClassProgress {
		t.Fatalf("unexpected order: %+v", active)
	}
}

func TestMessagesExpire(t *testing.T) {
	now := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	sink := NewSink(5*time.Second, 0).WithClock(func() time.Time { return now })

	sink.Post(ClassNotice, LevelInfo, "transient")
	sink.Post(ClassProgress, LevelInfo, "sticky")

	now = now.Add(6 * time.Second)
	active := sink.Active()
	if len(active) != 1 || active[0].Class != ClassProgress {
		t.Fatalf("notice should have expired, progress with zero TTL should not: %+v", active)
	}
}

func TestClear(t *testing.T) {
	sink := NewSink(time.Minute, time.Minute)
	sink.Post(ClassProgress, LevelInfo, "building")
	sink.Clear(ClassProgress)
	if active := sink.Active(); len(active) != 0 {
		t.Fatalf("expected no live messages, got %+v", active)
	}
}

func TestHistoryBounded(t *testing.T) {
	sink := NewSink(time.Minute, time.Minute)
	for i := 0; i < defaultHistory+10; i++ {
		sink.Post(ClassNotice, LevelInfo, "n")
	}
	if got := len(sink.History()); got != defaultHistory {
		t.Fatalf("expected history capped at %d, got %d", defaultHistory, got)
	}
}
