package drive

import (
	"math"
	"sync"
	"time"
)

// SimConfig describes the simulated chassis.
type SimConfig struct {
	// MaxRPM is the output shaft speed at full duty.
	// Default: 100 (geared Rover 5 motor)
	MaxRPM float64

	// CountsPerRev is the encoder resolution after 4x decoding.
	// Default: 1333.33 (1000 pulses per 3 revolutions, x4)
	CountsPerRev float64

	// TimeConstant is the first-order motor response lag.
	// Default: 150ms
	TimeConstant time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// DefaultSimConfig returns a chassis resembling the Rover 5.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		MaxRPM:       100,
		CountsPerRev: 1000.0 / 3.0 * 4.0,
		TimeConstant: 150 * time.Millisecond,
		Now:          time.Now,
	}
}

// Sim is a simulated rover: a motor driver whose wheels spin up toward
// the commanded duty and an encoder source that counts the rotation.
// Wheel travel is turned into A/B phase edges and decoded by a
// Quadrature decoder per wheel. State advances lazily on every call.
type Sim struct {
	cfg SimConfig

	mu      sync.Mutex
	duty    [2]int16
	rpm     [2]float64
	pos     [2]float64 // counts, fractional
	emitted [2]int64
	phase   [2]phaseGen
	dec     [2]Quadrature
	last    time.Time
}

// NewSim creates a stationary simulated rover.
func NewSim(cfg SimConfig) *Sim {
	def := DefaultSimConfig()
	if cfg.MaxRPM <= 0 {
		cfg.MaxRPM = def.MaxRPM
	}
	if cfg.CountsPerRev <= 0 {
		cfg.CountsPerRev = def.CountsPerRev
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = def.TimeConstant
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Sim{cfg: cfg, last: cfg.Now()}
}

// advance integrates wheel speed and position up to now. Caller holds mu.
func (s *Sim) advance() {
	now := s.cfg.Now()
	dt := now.Sub(s.last)
	s.last = now
	if dt <= 0 {
		return
	}

	k := 1 - math.Exp(-dt.Seconds()/s.cfg.TimeConstant.Seconds())
	for i := range s.duty {
		target := float64(s.duty[i]) / PWMResolution * s.cfg.MaxRPM
		prev := s.rpm[i]
		s.rpm[i] += (target - prev) * k
		avg := (prev + s.rpm[i]) / 2
		s.pos[i] += avg / 60 * dt.Seconds() * s.cfg.CountsPerRev

		edges := int64(s.pos[i])
		s.phase[i].advance(edges-s.emitted[i], &s.dec[i])
		s.emitted[i] = edges
	}
}

// SetLeft implements MotorDriver.
func (s *Sim) SetLeft(duty int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.duty[Left] = ClampDuty(duty)
	return nil
}

// SetRight implements MotorDriver.
func (s *Sim) SetRight(duty int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.duty[Right] = ClampDuty(duty)
	return nil
}

// Stop implements MotorDriver.
func (s *Sim) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.duty = [2]int16{}
	return nil
}

// Count implements EncoderSource. The value wraps like a 32-bit register.
func (s *Sim) Count(w Wheel) (int32, error) {
	if !w.Valid() {
		return 0, ErrInvalidWheel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.dec[w].Count(), nil
}

// Counts implements PairedEncoder.
func (s *Sim) Counts() (left, right int32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.dec[Left].Count(), s.dec[Right].Count(), nil
}

// Clear implements EncoderSource.
func (s *Sim) Clear(w Wheel) error {
	if !w.Valid() {
		return ErrInvalidWheel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.dec[w].Clear()
	return nil
}

// RPM returns the simulated shaft speed of w.
func (s *Sim) RPM(w Wheel) float64 {
	if !w.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.rpm[w]
}

var (
	_ MotorDriver   = (*Sim)(nil)
	_ PairedEncoder = (*Sim)(nil)
)
