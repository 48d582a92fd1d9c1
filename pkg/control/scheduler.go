package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/pkg/drive"
	"github.com/teslashibe/go-rover/pkg/fuzzy"
)

// Scheduler timing defaults.
const (
	DefaultRate    = 20 * time.Millisecond  // 50 Hz
	DefaultTimeout = 100 * time.Millisecond // fail-safe window
)

// heartbeatTicks is how often the loop logs its counters (~5s at 50 Hz).
const heartbeatTicks = 250

// State is the scheduler's position in its control cycle.
type State int32

const (
	StateAwaiting State = iota
	StateApplying
	StateFailsafe
)

func (s State) String() string {
	switch s {
	case StateAwaiting:
		return "awaiting_command"
	case StateApplying:
		return "applying"
	case StateFailsafe:
		return "failsafe_stop"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateAwaiting, StateApplying, StateFailsafe} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("control: unknown state %q", text)
}

// SchedulerOptions tunes a Scheduler. Zero values take defaults.
type SchedulerOptions struct {
	Rate     time.Duration
	Timeout  time.Duration
	Geometry GeometrySetter
	Logger   *slog.Logger
}

// Stats are the scheduler's running counters.
type Stats struct {
	State        State  `json:"state"`
	Ticks        uint64 `json:"ticks"`
	Applied      uint64 `json:"applied"`
	Failsafes    uint64 `json:"failsafes"`
	DriverErrors uint64 `json:"driver_errors"`
	Updates      uint64 `json:"updates"`
	Dropped      uint64 `json:"dropped"`

	Queued   int            `json:"queued"`
	QueueCap int            `json:"queue_cap"`
	Overflow OverflowPolicy `json:"overflow"`
}

type updateRequest struct {
	update ConfigUpdate
	reply  chan error // nil for fire-and-forget
}

// Scheduler is the fixed-rate motor task. Each tick it waits up to the
// timeout for a joystick sample; a sample is mapped and sent to the
// driver, no sample stops the motors. The stop repeats every starved tick.
//
// Configuration updates are applied on the scheduler goroutine so a
// control cycle always sees one consistent profile.
type Scheduler struct {
	driver   drive.MotorDriver
	mapper   *fuzzy.Controller
	commands *CommandChannel
	targets  Targets
	updates  chan updateRequest

	rate    time.Duration
	timeout time.Duration
	logger  *slog.Logger

	state       atomic.Int32
	lastApplied atomic.Uint32 // left<<16 | right, as uint16 pairs

	ticks        atomic.Uint64
	applied      atomic.Uint64
	failsafes    atomic.Uint64
	driverErrors atomic.Uint64
	updatesDone  atomic.Uint64

	// owned by the scheduler goroutine
	lastErrorLog time.Time
	starved      bool
}

// NewScheduler wires a scheduler to its driver, mapper and input queue.
func NewScheduler(driver drive.MotorDriver, mapper *fuzzy.Controller, commands *CommandChannel, opts SchedulerOptions) *Scheduler {
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		driver:   driver,
		mapper:   mapper,
		commands: commands,
		targets:  Targets{Mapper: mapper, Geometry: opts.Geometry},
		updates:  make(chan updateRequest, 8),
		rate:     opts.Rate,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
	}
}

// Run drives the loop until ctx is cancelled, then stops the motors.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("motor scheduler started", "rate", s.rate, "timeout", s.timeout)
	ticker := time.NewTicker(s.rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.driver.Stop(); err != nil {
				s.logger.Error("final motor stop failed", "error", err)
			}
			s.storeApplied(fuzzy.MotorCommand{})
			s.logger.Info("motor scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one control cycle.
func (s *Scheduler) tick(ctx context.Context) {
	n := s.ticks.Add(1)
	s.state.Store(int32(StateAwaiting))

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.updates:
			s.applyUpdate(req)
		case cmd := <-s.commands.C():
			s.apply(cmd)
			s.heartbeat(n)
			return
		case <-timer.C:
			s.failsafe()
			s.heartbeat(n)
			return
		}
	}
}

func (s *Scheduler) apply(cmd JoystickCommand) {
	s.state.Store(int32(StateApplying))
	defer s.state.Store(int32(StateAwaiting))
	s.starved = false

	out := s.mapper.Process(cmd.Angle, cmd.Magnitude)
	errL := s.driver.SetLeft(out.Left)
	errR := s.driver.SetRight(out.Right)
	if errL != nil || errR != nil {
		s.driverError(errL, errR)
		return
	}
	s.storeApplied(out)
	s.applied.Add(1)
}

func (s *Scheduler) failsafe() {
	s.state.Store(int32(StateFailsafe))
	s.failsafes.Add(1)
	if err := s.driver.Stop(); err != nil {
		s.driverError(err, nil)
	}
	s.storeApplied(fuzzy.MotorCommand{})
	if !s.starved {
		s.starved = true
		s.logger.Debug("no joystick input, motors stopped", "timeout", s.timeout)
	}
}

// driverError counts a failed driver call and logs at most every 5s.
func (s *Scheduler) driverError(errs ...error) {
	total := s.driverErrors.Add(1)
	if !s.lastErrorLog.IsZero() && time.Since(s.lastErrorLog) < 5*time.Second {
		return
	}
	s.lastErrorLog = time.Now()
	for _, err := range errs {
		if err != nil {
			s.logger.Error("motor driver error", "error", err, "total_errors", total)
		}
	}
}

func (s *Scheduler) heartbeat(tick uint64) {
	if tick%heartbeatTicks != 0 {
		return
	}
	last := s.LastApplied()
	s.logger.Debug("motor scheduler heartbeat",
		"ticks", tick,
		"applied", s.applied.Load(),
		"failsafes", s.failsafes.Load(),
		"errors", s.driverErrors.Load(),
		"left", last.Left, "right", last.Right)
}

func (s *Scheduler) applyUpdate(req updateRequest) {
	err := req.update.Apply(s.targets)
	if err != nil {
		s.logger.Warn("config update rejected", "update", req.update.String(), "error", err)
	} else {
		s.updatesDone.Add(1)
		s.logger.Info("config update applied", "update", req.update.String())
	}
	if req.reply != nil {
		req.reply <- err
	}
}

// Submit queues u for the scheduler without waiting for the result.
func (s *Scheduler) Submit(u ConfigUpdate) error {
	select {
	case s.updates <- updateRequest{update: u}:
		return nil
	default:
		s.logger.Warn("config queue full, update dropped", "update", u.String())
		return ErrQueueFull
	}
}

// Apply queues u and waits for the scheduler to apply it.
func (s *Scheduler) Apply(ctx context.Context, u ConfigUpdate) error {
	req := updateRequest{update: u, reply: make(chan error, 1)}
	select {
	case s.updates <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) storeApplied(c fuzzy.MotorCommand) {
	s.lastApplied.Store(uint32(uint16(c.Left))<<16 | uint32(uint16(c.Right)))
}

// LastApplied returns the duty most recently sent to the motors.
func (s *Scheduler) LastApplied() fuzzy.MotorCommand {
	v := s.lastApplied.Load()
	return fuzzy.MotorCommand{
		Left:  int16(uint16(v >> 16)),
		Right: int16(uint16(v)),
	}
}

// State returns the current cycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:        s.State(),
		Ticks:        s.ticks.Load(),
		Applied:      s.applied.Load(),
		Failsafes:    s.failsafes.Load(),
		DriverErrors: s.driverErrors.Load(),
		Updates:      s.updatesDone.Load(),
		Dropped:      s.commands.Dropped(),
		Queued:       s.commands.Len(),
		QueueCap:     s.commands.Cap(),
		Overflow:     s.commands.Policy(),
	}
}
