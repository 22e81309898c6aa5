package mock

import (
	"sync"
	"time"
)

// Clock provides the current time so tests can simulate token expiry
// without waiting.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system time.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a Clock that only moves when told to. It is safe for
// concurrent use, so it can drive both a client under test and the mock
// server at once.
type MockClock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewMockClock creates a clock set to t, or to the current time if t is zero.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Now()
	}
	return &MockClock{current: t}
}

// Now returns the clock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Advance moves the clock forward by d.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

// Set moves the clock to t.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}
