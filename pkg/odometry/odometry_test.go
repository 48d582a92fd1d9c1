package odometry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/drive"
)

func TestNewEngine_RejectsBadGeometry(t *testing.T) {
	_, err := NewEngine(0, 65)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = NewEngine(250, -1)
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = NewEngine(250, math.NaN())
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestEngine_CountsPerRevolution(t *testing.T) {
	e, err := NewEngine(DefaultPulsesPerRev, DefaultWheelDiameter)
	require.NoError(t, err)
	assert.InDelta(t, 1333.33, e.CountsPerRevolution(), 0.01)
}

func TestEngine_OneRevolutionPerMinute(t *testing.T) {
	e, err := NewEngine(250, 65)
	require.NoError(t, err)

	t0 := time.Unix(100, 0)
	e.Update(drive.Left, 0, t0)
	e.Update(drive.Left, 1000, t0.Add(time.Minute))

	wo := e.Wheel(drive.Left)
	assert.InDelta(t, 1.0, wo.RPM, 1e-12)
	assert.InDelta(t, math.Pi*65/1000, wo.Distance, 1e-12)
	assert.InDelta(t, e.Geometry().CircumferenceM, wo.Distance, 1e-12)
	assert.Equal(t, int64(1000), wo.Count)
}

func TestEngine_StartCreditsFirstSample(t *testing.T) {
	e, err := NewEngine(250, 100)
	require.NoError(t, err)

	t0 := time.Unix(100, 0)
	e.Start(t0)
	e.Update(drive.Left, 500, t0.Add(30*time.Second))

	wo := e.Wheel(drive.Left)
	assert.InDelta(t, 1.0, wo.RPM, 1e-9)
	assert.InDelta(t, 0.5*math.Pi*0.1, wo.Distance, 1e-9)

	// Start again discards what was accumulated.
	e.Start(t0.Add(time.Minute))
	left, right := e.Snapshot()
	assert.Zero(t, left.Distance)
	assert.Zero(t, left.RPM)
	assert.Equal(t, t0.Add(time.Minute), right.LastSample)
}

func TestEngine_UpdateBeforeStartOnlyMovesBaseline(t *testing.T) {
	e, _ := NewEngine(250, 65)
	e.Start(time.Unix(200, 0))

	e.Update(drive.Right, 800, time.Unix(100, 0))
	wo := e.Wheel(drive.Right)
	assert.Zero(t, wo.Distance)
	assert.Zero(t, wo.RPM)
	assert.Equal(t, int64(800), wo.LastCount)
}

func TestEngine_RoverChassis(t *testing.T) {
	e, err := NewEngine(DefaultPulsesPerRev, DefaultWheelDiameter)
	require.NoError(t, err)

	t0 := time.Unix(100, 0)
	e.Update(drive.Right, 0, t0)
	e.Update(drive.Right, 1333, t0.Add(60*time.Second))

	wo := e.Wheel(drive.Right)
	assert.InDelta(t, 1.0, wo.RPM, 0.001)
	assert.InDelta(t, e.Geometry().CircumferenceM, wo.Distance, 0.001)
}

func TestEngine_Reverse(t *testing.T) {
	e, _ := NewEngine(250, 100)
	t0 := time.Unix(0, 0)
	e.Update(drive.Left, 0, t0)
	e.Update(drive.Left, -500, t0.Add(30*time.Second))

	wo := e.Wheel(drive.Left)
	assert.InDelta(t, -1.0, wo.RPM, 1e-9)
	assert.InDelta(t, -0.5*math.Pi*0.1, wo.Distance, 1e-9)
}

func TestEngine_NonPositiveIntervalMovesBaseline(t *testing.T) {
	e, _ := NewEngine(250, 65)
	t0 := time.Unix(100, 0)

	e.Update(drive.Left, 0, t0)
	e.Update(drive.Left, 100, t0.Add(time.Second))
	rpm := e.Wheel(drive.Left).RPM
	dist := e.Wheel(drive.Left).Distance

	// Same timestamp: no speed or distance change.
	e.Update(drive.Left, 400, t0.Add(time.Second))
	wo := e.Wheel(drive.Left)
	assert.Equal(t, rpm, wo.RPM)
	assert.Equal(t, dist, wo.Distance)
	assert.Equal(t, int64(400), wo.LastCount)

	// Clock went backwards: same.
	e.Update(drive.Left, 500, t0)
	wo = e.Wheel(drive.Left)
	assert.Equal(t, dist, wo.Distance)
	assert.Equal(t, int64(500), wo.LastCount)

	// Next forward step is measured from the moved baseline.
	e.Update(drive.Left, 600, t0.Add(time.Minute))
	wo = e.Wheel(drive.Left)
	assert.InDelta(t, 0.1, wo.RPM, 1e-9)
}

func TestEngine_StationaryIsZeroRPM(t *testing.T) {
	e, _ := NewEngine(250, 65)
	t0 := time.Unix(100, 0)
	e.Update(drive.Left, 10, t0)
	e.Update(drive.Left, 20, t0.Add(100*time.Millisecond))
	require.NotZero(t, e.Wheel(drive.Left).RPM)

	e.Update(drive.Left, 20, t0.Add(200*time.Millisecond))
	assert.Zero(t, e.Wheel(drive.Left).RPM)
}

func TestEngine_Reset(t *testing.T) {
	e, _ := NewEngine(250, 65)
	t0 := time.Unix(100, 0)
	e.Update(drive.Right, 0, t0)
	e.Update(drive.Right, 1000, t0.Add(time.Minute))

	e.Reset(drive.Right)
	wo := e.Wheel(drive.Right)
	assert.Zero(t, wo.Count)
	assert.Zero(t, wo.Distance)
	assert.InDelta(t, 1.0, wo.RPM, 1e-12, "rpm survives reset")

	left, _ := e.Snapshot()
	assert.Zero(t, left.Distance)
}

func TestEngine_InvalidWheelIgnored(t *testing.T) {
	e, _ := NewEngine(250, 65)
	e.Update(drive.Wheel(7), 100, time.Now())
	e.Reset(drive.Wheel(7))
	assert.Equal(t, WheelOdometry{}, e.Wheel(drive.Wheel(7)))
}

func TestEngine_SetWheelDiameter(t *testing.T) {
	e, _ := NewEngine(250, 65)
	require.NoError(t, e.SetWheelDiameter(100))
	assert.InDelta(t, math.Pi/10, e.Geometry().CircumferenceM, 1e-12)

	assert.ErrorIs(t, e.SetWheelDiameter(0), ErrInvalidGeometry)
	assert.Equal(t, 100.0, e.Geometry().DiameterMM)
}

func TestCounter_Wraparound(t *testing.T) {
	tests := []struct {
		name string
		raws []int32
		want int64
	}{
		{"monotonic", []int32{0, 10, 20}, 20},
		{"starts offset", []int32{500, 600}, 600},
		{"backwards", []int32{0, -50, -100}, -100},
		{"positive overflow", []int32{math.MaxInt32 - 5, math.MinInt32 + 4}, math.MaxInt32 + 5},
		{"negative overflow", []int32{math.MinInt32 + 2, math.MaxInt32 - 2}, math.MinInt32 - 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Counter
			var got int64
			for _, r := range tt.raws {
				got = c.Observe(r)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCounter_Reset(t *testing.T) {
	var c Counter
	c.Observe(100)
	c.Observe(200)
	c.Reset()
	assert.Equal(t, Counter{}, c)
	assert.Equal(t, int64(5), c.Observe(5))
}
