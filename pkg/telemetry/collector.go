package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/odometry"
)

// DefaultRate is the telemetry period (10 Hz).
const DefaultRate = 100 * time.Millisecond

// Options tunes a Collector. Zero values take defaults.
type Options struct {
	Rate time.Duration

	// Env is an optional ambient sensor.
	Env EnvSensor

	// Battery returns the pack voltage. Default: NominalBatteryVoltage.
	Battery func() float64

	Now    func() time.Time
	Logger *slog.Logger
}

// Collector is the fixed-rate telemetry task. It is the only writer of
// the odometry engine.
type Collector struct {
	engine  *odometry.Engine
	encoder drive.EncoderSource // nil: no encoders, degraded telemetry
	duty    DutySource
	env     EnvSensor
	battery func() float64

	rate   time.Duration
	now    func() time.Time
	start  time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	sinks []Sink

	clears chan drive.Wheel
	latest atomic.Pointer[Snapshot]

	// owned by the collector goroutine
	counters     [2]odometry.Counter
	lastErrorLog time.Time
	ticks        uint64
}

// NewCollector creates a collector. encoder may be nil when the encoders
// failed to come up.
func NewCollector(engine *odometry.Engine, encoder drive.EncoderSource, duty DutySource, opts Options) *Collector {
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Battery == nil {
		opts.Battery = func() float64 { return NominalBatteryVoltage }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	start := opts.Now()
	// Encoder registers are cleared at bring-up; travel counts from here.
	engine.Start(start)
	return &Collector{
		engine:  engine,
		encoder: encoder,
		duty:    duty,
		env:     opts.Env,
		battery: opts.Battery,
		rate:    opts.Rate,
		now:     opts.Now,
		start:   start,
		logger:  opts.Logger,
		clears:  make(chan drive.Wheel, 4),
	}
}

// AddSink registers a sink for every subsequent snapshot.
func (c *Collector) AddSink(s Sink) {
	c.mu.Lock()
	c.sinks = append(c.sinks, s)
	c.mu.Unlock()
}

// RequestClear asks the collector to zero the encoder and odometry of w
// on its next tick.
func (c *Collector) RequestClear(w drive.Wheel) error {
	if !w.Valid() {
		return drive.ErrInvalidWheel
	}
	select {
	case c.clears <- w:
		return nil
	default:
		return ErrClearPending
	}
}

// Latest returns the most recent snapshot.
func (c *Collector) Latest() (Snapshot, bool) {
	s := c.latest.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// Run samples until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("telemetry collector started", "rate", c.rate, "encoders", c.encoder != nil)
	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("telemetry collector stopped")
			return nil
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick takes one sample and publishes it.
func (c *Collector) tick(ctx context.Context) {
	c.ticks++
	c.drainClears()

	now := c.now()
	encodersOK := c.sampleEncoders(now)

	left, right := c.engine.Snapshot()
	snap := Snapshot{
		LeftCount:      left.Count,
		RightCount:     right.Count,
		LeftRPM:        left.RPM,
		RightRPM:       right.RPM,
		LeftDistance:   left.Distance,
		RightDistance:  right.Distance,
		EncodersOK:     encodersOK,
		BatteryVoltage: c.battery(),
		Uptime:         uint64(now.Sub(c.start) / time.Second),
		FreeHeap:       freeHeap(c.ticks),
		Timestamp:      now.UnixMilli(),
	}
	if c.duty != nil {
		d := c.duty.LastApplied()
		snap.LeftPWM, snap.RightPWM = d.Left, d.Right
	}
	if c.env != nil {
		r, err := c.env.ReadEnv(ctx)
		if err != nil {
			c.logError("env sensor read failed", err)
		} else if r.Valid {
			snap.Temperature, snap.Humidity, snap.DHTValid = r.Temperature, r.Humidity, true
		}
	}

	c.latest.Store(&snap)

	c.mu.RLock()
	sinks := c.sinks
	c.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Publish(ctx, snap); err != nil {
			c.logError("telemetry publish failed", err)
		}
	}
}

func (c *Collector) drainClears() {
	for {
		select {
		case w := <-c.clears:
			if c.encoder != nil {
				if err := c.encoder.Clear(w); err != nil {
					c.logError("encoder clear failed", err)
					continue
				}
			}
			c.counters[w].Reset()
			c.engine.Reset(w)
			c.logger.Info("odometry reset", "wheel", w)
		default:
			return
		}
	}
}

func (c *Collector) sampleEncoders(now time.Time) bool {
	if c.encoder == nil {
		return false
	}
	if pe, ok := c.encoder.(drive.PairedEncoder); ok {
		left, right, err := pe.Counts()
		if err != nil {
			c.logError("encoder read failed", err)
			return false
		}
		c.engine.Update(drive.Left, c.counters[drive.Left].Observe(left), now)
		c.engine.Update(drive.Right, c.counters[drive.Right].Observe(right), now)
		return true
	}
	ok := true
	for _, w := range drive.Wheels {
		raw, err := c.encoder.Count(w)
		if err != nil {
			c.logError("encoder read failed", err)
			ok = false
			continue
		}
		c.engine.Update(w, c.counters[w].Observe(raw), now)
	}
	return ok
}

// logError logs at most once every 5s.
func (c *Collector) logError(msg string, err error) {
	if !c.lastErrorLog.IsZero() && time.Since(c.lastErrorLog) < 5*time.Second {
		return
	}
	c.lastErrorLog = time.Now()
	c.logger.Warn(msg, "error", err)
}

var heapFree atomic.Uint64

// freeHeap reports idle heap bytes, refreshed about once a second.
func freeHeap(tick uint64) uint64 {
	if tick%10 == 1 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		heapFree.Store(ms.HeapIdle - ms.HeapReleased)
	}
	return heapFree.Load()
}
