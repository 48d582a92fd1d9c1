package serialboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/drive"
)

// fakeDevice emulates the board firmware behind a Transport.
type fakeDevice struct {
	mu      sync.Mutex
	out     []byte
	lines   []string
	counts  [2]int32
	silent  bool
	failing string
	closed  bool
}

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		d.lines = append(d.lines, line)
		if d.silent {
			continue
		}
		d.out = append(d.out, d.answer(line)+"\r\n"...)
	}
	return len(p), nil
}

func (d *fakeDevice) answer(line string) string {
	if d.failing != "" {
		return "ERR " + d.failing
	}
	f := strings.Fields(line)
	switch f[0] {
	case "M", "S":
		return "OK"
	case "E":
		return fmt.Sprintf("E %d %d", d.counts[0], d.counts[1])
	case "C":
		if f[1] == "L" {
			d.counts[0] = 0
		} else {
			d.counts[1] = 0
		}
		return "OK"
	case "T":
		return "T 23.5 41.0"
	}
	return "ERR unknown"
}

// Read hands out at most 3 bytes per call to exercise line assembly.
func (d *fakeDevice) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(p[:min(len(p), 3)], d.out)
	d.out = d.out[n:]
	return n, nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

func TestBoard_Duty(t *testing.T) {
	dev := &fakeDevice{}
	b := New(dev, 20*time.Millisecond, nil)

	require.NoError(t, b.SetLeft(100))
	require.NoError(t, b.SetRight(-400))
	require.NoError(t, b.Stop())
	require.NoError(t, b.SetRight(5))

	assert.Equal(t, []string{"M 100 0", "M 100 -255", "S", "M 0 5"}, dev.sent())
}

func TestBoard_Encoders(t *testing.T) {
	dev := &fakeDevice{counts: [2]int32{1234, -77}}
	b := New(dev, 20*time.Millisecond, nil)

	l, err := b.Count(drive.Left)
	require.NoError(t, err)
	assert.Equal(t, int32(1234), l)

	r, err := b.Count(drive.Right)
	require.NoError(t, err)
	assert.Equal(t, int32(-77), r)

	require.NoError(t, b.Clear(drive.Right))
	r, err = b.Count(drive.Right)
	require.NoError(t, err)
	assert.Zero(t, r)

	_, err = b.Count(drive.Wheel(5))
	assert.ErrorIs(t, err, drive.ErrInvalidWheel)
}

func TestBoard_CountsIsOneExchange(t *testing.T) {
	dev := &fakeDevice{counts: [2]int32{500, -20}}
	b := New(dev, 20*time.Millisecond, nil)

	l, r, err := b.Counts()
	require.NoError(t, err)
	assert.Equal(t, int32(500), l)
	assert.Equal(t, int32(-20), r)
	assert.Equal(t, []string{"E"}, dev.sent())

	dev.mu.Lock()
	dev.failing = "encoder bus"
	dev.mu.Unlock()
	_, _, err = b.Counts()
	assert.ErrorContains(t, err, "encoder bus")
}

func TestBoard_Env(t *testing.T) {
	b := New(&fakeDevice{}, 20*time.Millisecond, nil)

	env, err := b.ReadEnv(context.Background())
	require.NoError(t, err)
	assert.True(t, env.Valid)
	assert.Equal(t, 23.5, env.Temperature)
	assert.Equal(t, 41.0, env.Humidity)
}

func TestBoard_Errors(t *testing.T) {
	dev := &fakeDevice{failing: "overcurrent"}
	b := New(dev, 20*time.Millisecond, nil)

	err := b.SetLeft(50)
	var de *drive.DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, drive.Left, de.Wheel)
	assert.Contains(t, err.Error(), "overcurrent")

	dev.mu.Lock()
	dev.failing = ""
	dev.silent = true
	dev.mu.Unlock()
	_, err = b.Count(drive.Left)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBoard_FailedSetKeepsDuty(t *testing.T) {
	dev := &fakeDevice{}
	b := New(dev, 20*time.Millisecond, nil)
	require.NoError(t, b.SetLeft(80))

	dev.mu.Lock()
	dev.failing = "busy"
	dev.mu.Unlock()
	assert.Error(t, b.SetRight(90))

	dev.mu.Lock()
	dev.failing = ""
	dev.mu.Unlock()
	require.NoError(t, b.SetRight(10))
	assert.Equal(t, "M 80 10", dev.sent()[len(dev.sent())-1])
}

func TestBoard_Close(t *testing.T) {
	dev := &fakeDevice{}
	b := New(dev, 20*time.Millisecond, nil)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.True(t, dev.closed)
	assert.Equal(t, []string{"S"}, dev.sent())

	assert.ErrorIs(t, b.SetLeft(1), drive.ErrClosed)
}

func TestOpen_RequiresPort(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}
