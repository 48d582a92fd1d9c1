// Package rover assembles the control and telemetry tasks of the rover
// around one explicit context object.
package rover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-rover/pkg/control"
	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
	"github.com/teslashibe/go-rover/pkg/odometry"
	"github.com/teslashibe/go-rover/pkg/telemetry"
)

// Config holds everything needed to build a Rover. Zero values take the
// package defaults of each component.
type Config struct {
	// Control is the startup profile. Zero: fuzzy.DefaultConfig()
	Control fuzzy.Config

	// Encoder and wheel geometry.
	PulsesPerRev    float64
	WheelDiameterMM float64

	// Command queue.
	QueueSize int
	Overflow  control.OverflowPolicy

	// Task timing.
	ControlRate    time.Duration
	ControlTimeout time.Duration
	TelemetryRate  time.Duration

	// Optional collaborators.
	Env     telemetry.EnvSensor
	Battery func() float64

	Logger *slog.Logger
}

// Rover owns the controller, odometry engine, command channel, scheduler
// and collector. Nothing in the runtime is global.
type Rover struct {
	mapper    *fuzzy.Controller
	engine    *odometry.Engine
	commands  *control.CommandChannel
	scheduler *control.Scheduler
	collector *telemetry.Collector
	logger    *slog.Logger
}

// New builds a rover over motor and, optionally, encoder. A nil encoder
// runs the rover with degraded telemetry.
func New(motor drive.MotorDriver, encoder drive.EncoderSource, cfg Config) (*Rover, error) {
	if motor == nil {
		return nil, fmt.Errorf("rover: motor driver is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PulsesPerRev == 0 {
		cfg.PulsesPerRev = odometry.DefaultPulsesPerRev
	}
	if cfg.WheelDiameterMM == 0 {
		cfg.WheelDiameterMM = odometry.DefaultWheelDiameter
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = control.DefaultQueueSize
	}

	mapper := fuzzy.NewController(cfg.Logger.With("component", "fuzzy"))
	if cfg.Control != (fuzzy.Config{}) {
		if err := mapper.Configure(cfg.Control); err != nil {
			return nil, fmt.Errorf("rover: control profile: %w", err)
		}
	}

	engine, err := odometry.NewEngine(cfg.PulsesPerRev, cfg.WheelDiameterMM)
	if err != nil {
		return nil, fmt.Errorf("rover: %w", err)
	}

	commands := control.NewCommandChannel(cfg.QueueSize, cfg.Overflow, cfg.Logger.With("component", "commands"))
	scheduler := control.NewScheduler(motor, mapper, commands, control.SchedulerOptions{
		Rate:     cfg.ControlRate,
		Timeout:  cfg.ControlTimeout,
		Geometry: engine,
		Logger:   cfg.Logger.With("component", "scheduler"),
	})
	collector := telemetry.NewCollector(engine, encoder, scheduler, telemetry.Options{
		Rate:    cfg.TelemetryRate,
		Env:     cfg.Env,
		Battery: cfg.Battery,
		Logger:  cfg.Logger.With("component", "telemetry"),
	})

	return &Rover{
		mapper:    mapper,
		engine:    engine,
		commands:  commands,
		scheduler: scheduler,
		collector: collector,
		logger:    cfg.Logger,
	}, nil
}

// Run runs the scheduler and the collector until ctx is cancelled or
// either fails.
func (r *Rover) Run(ctx context.Context) error {
	r.logger.Info("rover starting",
		"mode", r.mapper.Config().Mode,
		"counts_per_rev", r.engine.CountsPerRevolution(),
		"wheel_mm", r.engine.Geometry().DiameterMM)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.scheduler.Run(ctx) })
	g.Go(func() error { return r.collector.Run(ctx) })
	err := g.Wait()

	r.logger.Info("rover stopped", "error", err)
	return err
}

// AddSink registers a telemetry sink.
func (r *Rover) AddSink(s telemetry.Sink) {
	r.collector.AddSink(s)
}

// Post queues a joystick command for the next control cycle.
func (r *Rover) Post(cmd control.JoystickCommand) bool {
	return r.commands.Post(cmd)
}

// Submit queues a config update without waiting for it.
func (r *Rover) Submit(u control.ConfigUpdate) error {
	return r.scheduler.Submit(u)
}

// Apply runs a config update on the control loop and returns its result.
func (r *Rover) Apply(ctx context.Context, u control.ConfigUpdate) error {
	return r.scheduler.Apply(ctx, u)
}

// Profile returns the active control profile.
func (r *Rover) Profile() fuzzy.Config {
	return r.mapper.Config()
}

// Stats returns the scheduler counters.
func (r *Rover) Stats() control.Stats {
	return r.scheduler.Stats()
}

// Geometry returns the current wheel geometry.
func (r *Rover) Geometry() odometry.Geometry {
	return r.engine.Geometry()
}

// Telemetry returns the latest snapshot.
func (r *Rover) Telemetry() (telemetry.Snapshot, bool) {
	return r.collector.Latest()
}

// ResetOdometry clears the encoder and odometry of w on the next
// telemetry tick.
func (r *Rover) ResetOdometry(w drive.Wheel) error {
	return r.collector.RequestClear(w)
}

// Odometry returns the per-wheel odometry.
func (r *Rover) Odometry() (left, right odometry.WheelOdometry) {
	return r.engine.Snapshot()
}

// LastApplied returns the duty last sent to the motors.
func (r *Rover) LastApplied() fuzzy.MotorCommand {
	return r.scheduler.LastApplied()
}
