// Package odometry turns raw wheel encoder counts into per-wheel speed
// and travelled distance.
package odometry

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/pkg/drive"
)

// QuadratureFactor is the number of counts per encoder pulse with 4x decoding.
const QuadratureFactor = 4

// Rover 5 chassis defaults.
const (
	DefaultPulsesPerRev  = 1000.0 / 3.0
	DefaultWheelDiameter = 65.0 // mm
	DefaultGearRatio     = 86.8
)

// ErrInvalidGeometry is returned for non-positive or non-finite dimensions.
var ErrInvalidGeometry = errors.New("odometry: invalid geometry")

// Geometry is the wheel size.
type Geometry struct {
	DiameterMM     float64 `json:"diameter_mm"`
	CircumferenceM float64 `json:"circumference_m"`
}

// NewGeometry derives the circumference from a diameter in millimetres.
func NewGeometry(diameterMM float64) (Geometry, error) {
	if !(diameterMM > 0) || math.IsInf(diameterMM, 0) {
		return Geometry{}, fmt.Errorf("%w: diameter %v mm", ErrInvalidGeometry, diameterMM)
	}
	return Geometry{
		DiameterMM:     diameterMM,
		CircumferenceM: math.Pi * diameterMM / 1000,
	}, nil
}

// WheelOdometry is the estimate for one wheel.
type WheelOdometry struct {
	Count      int64     `json:"count"`
	LastCount  int64     `json:"last_count"`
	LastSample time.Time `json:"last_sample"`
	RPM        float64   `json:"rpm"`
	Distance   float64   `json:"distance"` // metres, signed
}

// Engine holds the odometry state of both wheels. It is safe for
// concurrent use; in practice one collector writes and readers snapshot.
type Engine struct {
	cpr float64

	mu       sync.RWMutex
	geometry Geometry
	wheels   [2]WheelOdometry
}

// NewEngine creates an engine for an encoder with pulsesPerRev pulses
// per wheel revolution and a wheel of diameterMM. Both wheels start at
// count zero, stamped with the current time; see Start.
func NewEngine(pulsesPerRev, diameterMM float64) (*Engine, error) {
	if !(pulsesPerRev > 0) || math.IsInf(pulsesPerRev, 0) {
		return nil, fmt.Errorf("%w: %v pulses per revolution", ErrInvalidGeometry, pulsesPerRev)
	}
	g, err := NewGeometry(diameterMM)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cpr:      pulsesPerRev * QuadratureFactor,
		geometry: g,
	}
	e.Start(time.Now())
	return e, nil
}

// Start sets both wheels to count zero at now, the moment the encoder
// registers were cleared. Counts seen by the first Update after Start
// are credited as travel. Accumulated distance and RPM are zeroed.
func (e *Engine) Start(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.wheels {
		e.wheels[i] = WheelOdometry{LastSample: now}
	}
}

// CountsPerRevolution returns the decoded counts for one wheel turn.
func (e *Engine) CountsPerRevolution() float64 {
	return e.cpr
}

// Geometry returns the current wheel geometry.
func (e *Engine) Geometry() Geometry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.geometry
}

// SetWheelDiameter changes the wheel diameter. Distance already
// accumulated is kept.
func (e *Engine) SetWheelDiameter(mm float64) error {
	g, err := NewGeometry(mm)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.geometry = g
	e.mu.Unlock()
	return nil
}

// Update advances the estimate of w with the extended count observed at now.
// Speed and distance only change when time has moved forward, but the
// baseline always moves to the new sample.
func (e *Engine) Update(w drive.Wheel, count int64, now time.Time) {
	if !w.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	wo := &e.wheels[w]
	deltaCount := count - wo.LastCount
	deltaTime := now.Sub(wo.LastSample)

	if deltaTime > 0 {
		revs := float64(deltaCount) / e.cpr
		wo.RPM = revs / deltaTime.Minutes()
		wo.Distance += revs * e.geometry.CircumferenceM
	}

	wo.Count = count
	wo.LastCount = count
	wo.LastSample = now
}

// Reset zeroes the count baseline and distance of w. RPM is left to be
// overwritten by the next Update.
func (e *Engine) Reset(w drive.Wheel) {
	if !w.Valid() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	wo := &e.wheels[w]
	wo.Count = 0
	wo.LastCount = 0
	wo.Distance = 0
}

// Wheel returns a copy of the estimate for w.
func (e *Engine) Wheel(w drive.Wheel) WheelOdometry {
	if !w.Valid() {
		return WheelOdometry{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.wheels[w]
}

// Snapshot returns copies of both wheels.
func (e *Engine) Snapshot() (left, right WheelOdometry) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.wheels[drive.Left], e.wheels[drive.Right]
}
