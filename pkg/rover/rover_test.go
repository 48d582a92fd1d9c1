package rover

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
	"github.com/teslashibe/go-rover/pkg/telemetry"
	"github.com/teslashibe/go-rover/pkg/uplink"
	"github.com/teslashibe/go-rover/pkg/web"
)

var (
	_ web.Rover        = (*Rover)(nil)
	_ uplink.Commander = (*Rover)(nil)
)

func fastConfig() Config {
	return Config{
		ControlRate:    5 * time.Millisecond,
		ControlTimeout: 20 * time.Millisecond,
		TelemetryRate:  10 * time.Millisecond,
	}
}

func start(t *testing.T, r *Rover) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("rover did not stop")
		}
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, Config{})
	assert.Error(t, err)

	bad := fuzzy.DefaultConfig()
	bad.DeadZone = 2
	_, err = New(drive.NewMock(), nil, Config{Control: bad})
	assert.ErrorIs(t, err, fuzzy.ErrInvalidConfig)

	_, err = New(drive.NewMock(), nil, Config{WheelDiameterMM: -1})
	assert.Error(t, err)
}

func TestRover_DrivesAndFailsSafe(t *testing.T) {
	m := drive.NewMock()
	r, err := New(m, m, fastConfig())
	require.NoError(t, err)
	start(t, r)

	require.True(t, r.Post(control.JoystickCommand{Angle: math.Pi / 2, Magnitude: 1}))
	require.Eventually(t, func() bool {
		for _, c := range m.Calls() {
			if c.Op == "left" && c.Duty > 0 {
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)

	// No more input: the fail-safe stops the motors.
	require.Eventually(t, func() bool {
		l, rt := m.Duty()
		return l == 0 && rt == 0 && m.StopCount() > 0
	}, time.Second, 2*time.Millisecond)
	assert.Positive(t, r.Stats().Failsafes)
}

func TestRover_ConfigAndGeometry(t *testing.T) {
	m := drive.NewMock()
	r, err := New(m, m, fastConfig())
	require.NoError(t, err)
	start(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, r.Apply(ctx, control.ApplyPreset{Name: "precision"}))
	assert.Equal(t, fuzzy.ModeCar, r.Profile().Mode)

	require.NoError(t, r.Apply(ctx, control.SetWheelDiameter{MM: 80}))
	assert.Equal(t, 80.0, r.Geometry().DiameterMM)

	require.NoError(t, r.Submit(control.SetMode{Mode: fuzzy.ModeTank}))
	assert.Eventually(t, func() bool { return r.Profile().Mode == fuzzy.ModeTank }, time.Second, 2*time.Millisecond)
}

func TestRover_TelemetryAndReset(t *testing.T) {
	m := drive.NewMock()
	r, err := New(m, m, fastConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var got []telemetry.Snapshot
	r.AddSink(telemetry.SinkFunc(func(_ context.Context, s telemetry.Snapshot) error {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		return nil
	}))
	start(t, r)

	m.SetCount(drive.Left, 500)
	require.Eventually(t, func() bool {
		s, ok := r.Telemetry()
		return ok && s.LeftCount == 500
	}, time.Second, 2*time.Millisecond)

	require.NoError(t, r.ResetOdometry(drive.Left))
	require.Eventually(t, func() bool {
		s, _ := r.Telemetry()
		return s.LeftCount == 0
	}, time.Second, 2*time.Millisecond)

	left, _ := r.Odometry()
	assert.Zero(t, left.Count)

	mu.Lock()
	assert.NotEmpty(t, got)
	mu.Unlock()
}

func TestRover_SimulatedChassis(t *testing.T) {
	sim := drive.NewSim(drive.DefaultSimConfig())
	r, err := New(sim, sim, fastConfig())
	require.NoError(t, err)
	start(t, r)

	stop := time.After(300 * time.Millisecond)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-tick.C:
			r.Post(control.JoystickCommand{Angle: math.Pi / 2, Magnitude: 1})
		}
	}

	require.Eventually(t, func() bool {
		s, ok := r.Telemetry()
		return ok && s.LeftCount > 0 && s.RightCount > 0 && s.LeftDistance > 0
	}, time.Second, 5*time.Millisecond)

	applied := r.LastApplied()
	assert.GreaterOrEqual(t, applied.Left, int16(0))
}
