package drive

import (
	"sync"
	"sync/atomic"
)

// Call is one recorded motor driver invocation.
type Call struct {
	Op   string // "left", "right" or "stop"
	Duty int16
}

// Mock is an in-memory MotorDriver and EncoderSource for tests.
// Encoder counts are set directly with SetCount.
type Mock struct {
	mu     sync.Mutex
	calls  []Call
	left   int16
	right  int16
	counts [2]int32

	// Injected failures
	MotorErr   error
	EncoderErr error

	stops atomic.Int64
}

// NewMock creates an idle mock.
func NewMock() *Mock {
	return &Mock{}
}

// SetLeft implements MotorDriver.
func (m *Mock) SetLeft(duty int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MotorErr != nil {
		return &DriverError{Wheel: Left, Op: "set", Err: m.MotorErr}
	}
	m.left = ClampDuty(duty)
	m.calls = append(m.calls, Call{Op: "left", Duty: m.left})
	return nil
}

// SetRight implements MotorDriver.
func (m *Mock) SetRight(duty int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MotorErr != nil {
		return &DriverError{Wheel: Right, Op: "set", Err: m.MotorErr}
	}
	m.right = ClampDuty(duty)
	m.calls = append(m.calls, Call{Op: "right", Duty: m.right})
	return nil
}

// Stop implements MotorDriver.
func (m *Mock) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MotorErr != nil {
		return &DriverError{Wheel: Left, Op: "stop", Err: m.MotorErr}
	}
	m.left, m.right = 0, 0
	m.calls = append(m.calls, Call{Op: "stop"})
	m.stops.Add(1)
	return nil
}

// Duty returns the duty currently applied to each motor.
func (m *Mock) Duty() (left, right int16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.left, m.right
}

// Calls returns a copy of every recorded call.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// StopCount returns the number of successful Stop calls.
func (m *Mock) StopCount() int {
	return int(m.stops.Load())
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.stops.Store(0)
}

// SetCount sets the raw encoder register for w.
func (m *Mock) SetCount(w Wheel, count int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w.Valid() {
		m.counts[w] = count
	}
}

// Count implements EncoderSource.
func (m *Mock) Count(w Wheel) (int32, error) {
	if !w.Valid() {
		return 0, ErrInvalidWheel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EncoderErr != nil {
		return 0, &DriverError{Wheel: w, Op: "count", Err: m.EncoderErr}
	}
	return m.counts[w], nil
}

// Clear implements EncoderSource.
func (m *Mock) Clear(w Wheel) error {
	if !w.Valid() {
		return ErrInvalidWheel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EncoderErr != nil {
		return &DriverError{Wheel: w, Op: "clear", Err: m.EncoderErr}
	}
	m.counts[w] = 0
	return nil
}

var (
	_ MotorDriver   = (*Mock)(nil)
	_ EncoderSource = (*Mock)(nil)
)
