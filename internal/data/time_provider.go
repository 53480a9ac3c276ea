package data

import (
	"sync"
	"time"

	"github.com/target/jobengine/internal/core"
)

// TimeProvider is the clock the stores stamp created_at, updated_at and eligibility checks with.
type TimeProvider = core.Clock

// RealTimeProvider reads the system clock in UTC.
type RealTimeProvider struct{}

func (*RealTimeProvider) Now() time.Time { return time.Now().UTC() }

// FixedTimeProvider is a manually advanced clock for tests; safe for concurrent use.
type FixedTimeProvider struct {
	mu  sync.RWMutex
	now time.Time
}

func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{now: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.now
}

// SetTime jumps the clock to t.
func (f *FixedTimeProvider) SetTime(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// AddTime advances the clock by d.
func (f *FixedTimeProvider) AddTime(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}
