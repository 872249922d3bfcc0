package kit

import (
	"fmt"
	"sync"
	"time"
)

// PurgeStrategy decides, once per non-empty cycle, whether cleanup runs.
type PurgeStrategy interface {
	AllowedToClean() bool
	String() string
}

type validator interface {
	Validate() error
}

type purgeNone struct{}

// PurgeNone never cleans automatically; use Kit.ManualCleaner.
func PurgeNone() PurgeStrategy { return purgeNone{} }

func (purgeNone) AllowedToClean() bool { return false }
func (purgeNone) String() string       { return "none" }

// ByDuration allows a cleanup once Interval has elapsed since the previous
// allowed one. The first call is always allowed.
type ByDuration struct {
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  Clock
}

// PurgeByDuration returns a ByDuration strategy.
func PurgeByDuration(interval time.Duration) *ByDuration {
	return &ByDuration{Interval: interval, now: time.Now}
}

// WithClock overrides time.Now; intended for tests.
func (s *ByDuration) WithClock(c Clock) *ByDuration {
	s.now = c
	return s
}

func (s *ByDuration) Validate() error {
	if s.Interval <= 0 {
		return configErrorf("purge by duration: interval must be positive, got %s", s.Interval)
	}
	return nil
}

func (s *ByDuration) AllowedToClean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	if !s.last.IsZero() && now.Sub(s.last) < s.Interval {
		return false
	}
	s.last = now
	return true
}

func (s *ByDuration) String() string { return "duration(" + s.Interval.String() + ")" }

// ByNotification allows a cleanup on every Every-th cycle.
type ByNotification struct {
	Every int

	mu      sync.Mutex
	counter int
}

// PurgeByNotification returns a ByNotification strategy.
func PurgeByNotification(every int) *ByNotification {
	return &ByNotification{Every: every}
}

func (s *ByNotification) Validate() error {
	if s.Every <= 0 {
		return configErrorf("purge by notification: every must be positive, got %d", s.Every)
	}
	return nil
}

func (s *ByNotification) AllowedToClean() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Every <= 0 {
		return false
	}
	s.counter++
	if s.counter%s.Every == 0 {
		s.counter = 0
		return true
	}
	return false
}

func (s *ByNotification) String() string { return fmt.Sprintf("notification(%d)", s.Every) }
