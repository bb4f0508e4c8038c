// Package notify projects reconciled state and channel warnings into
// time-boxed user-visible messages. One message may be live per class; a
// later message of the same class always supersedes an earlier one.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Class string

const (
	// ClassNotice is the ambient notification line (results, warnings).
	ClassNotice Class = "notice"
	// ClassProgress is the build/deploy progress banner.
	ClassProgress Class = "progress"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Message struct {
	ID        string
	Class     Class
	Level     Level
	Text      string
	PostedAt  time.Time
	ExpiresAt time.Time
}

func (m Message) Expired(now time.Time) bool {
	return !m.ExpiresAt.IsZero() && !now.Before(m.ExpiresAt)
}

type Sink struct {
	mu      sync.Mutex
	live    map[Class]Message
	ttl     map[Class]time.Duration
	now     func() time.Time
	history []Message
	keep    int
}

const defaultHistory = 50

func NewSink(noticeTTL, progressTTL time.Duration) *Sink {
	return &Sink{
		live: map[Class]Message{},
		ttl: map[Class]time.Duration{
			ClassNotice:   noticeTTL,
			ClassProgress: progressTTL,
		},
		now:  time.Now,
		keep: defaultHistory,
	}
}

func (s *Sink) WithClock(now func() time.Time) *Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
	return s
}

// Post publishes a message, superseding any live message of the same class.
func (s *Sink) Post(class Class, level Level, text string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	msg := Message{
		ID:       uuid.NewString(),
		Class:    class,
		Level:    level,
		Text:     text,
		PostedAt: now,
	}
	if ttl := s.ttl[class]; ttl > 0 {
		msg.ExpiresAt = now.Add(ttl)
	}
	s.live[class] = msg
	s.history = append(s.history, msg)
	if len(s.history) > s.keep {
		s.history = s.history[len(s.history)-s.keep:]
	}
	return msg
}

// Clear drops the live message of a class, if any.
func (s *Sink) Clear(class Class) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, class)
}

// Active returns the unexpired live messages, notice before progress.
func (s *Sink) Active() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []Message
	for _, class := range []Class{ClassNotice, ClassProgress} {
		msg, ok := s.live[class]
		if !ok {
			continue
		}
		if msg.Expired(now) {
			delete(s.live, class)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// History returns recent messages, oldest first.
func (s *Sink) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}
