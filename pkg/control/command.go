// Package control runs the drive loop: joystick samples arrive on a
// bounded CommandChannel, the Scheduler maps them to motor duty at a fixed
// rate, and a missing sample stops the motors.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the command backlog held between transport and scheduler.
const DefaultQueueSize = 10

var (
	// ErrQueueFull is returned by Submit when the update backlog is full.
	ErrQueueFull = errors.New("control: queue full")

	// ErrNoGeometry is returned for geometry updates when no odometry is wired.
	ErrNoGeometry = errors.New("control: wheel geometry not available")

	// ErrUnknownParam is returned by ParseUpdate for unrecognized parameters.
	ErrUnknownParam = errors.New("control: unknown parameter")
)

// JoystickCommand is one polar joystick sample. Angle is in radians and
// may be any real value; Magnitude is nominally [0,1]. Timestamp is the
// sender's millisecond clock and is informational only.
type JoystickCommand struct {
	Angle     float64 `json:"angle"`
	Magnitude float64 `json:"magnitude"`
	Timestamp uint32  `json:"timestamp"`
}

// OverflowPolicy decides which sample is lost when the channel is full.
type OverflowPolicy int

const (
	// DropNewest discards the incoming sample and keeps the backlog.
	DropNewest OverflowPolicy = iota
	// DropOldest discards the oldest queued sample to make room.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p OverflowPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *OverflowPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseOverflowPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseOverflowPolicy parses "drop-newest" or "drop-oldest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop-newest", "newest":
		return DropNewest, nil
	case "drop-oldest", "oldest":
		return DropOldest, nil
	default:
		return 0, fmt.Errorf("control: unknown overflow policy %q", s)
	}
}

// CommandChannel is a bounded queue of joystick samples. Producers never
// block; the single consumer waits with a timeout.
type CommandChannel struct {
	ch     chan JoystickCommand
	policy OverflowPolicy
	logger *slog.Logger

	// serializes DropOldest producers so evict+send stays paired
	mu      sync.Mutex
	dropped atomic.Uint64
}

// NewCommandChannel creates a channel holding up to size samples.
func NewCommandChannel(size int, policy OverflowPolicy, logger *slog.Logger) *CommandChannel {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandChannel{
		ch:     make(chan JoystickCommand, size),
		policy: policy,
		logger: logger,
	}
}

// Post enqueues cmd without blocking. It reports whether cmd was queued.
// Overflow is logged and counted, never surfaced to the producer as an error.
func (c *CommandChannel) Post(cmd JoystickCommand) bool {
	if c.policy == DropOldest {
		return c.postEvict(cmd)
	}
	select {
	case c.ch <- cmd:
		return true
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("joystick queue full, command dropped", "dropped_total", n)
		return false
	}
}

func (c *CommandChannel) postEvict(cmd JoystickCommand) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		select {
		case c.ch <- cmd:
			return true
		default:
		}
		select {
		case <-c.ch:
			n := c.dropped.Add(1)
			c.logger.Debug("joystick queue full, oldest command evicted", "dropped_total", n)
		default:
		}
	}
}

// Receive waits up to timeout for the next sample.
func (c *CommandChannel) Receive(ctx context.Context, timeout time.Duration) (JoystickCommand, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case cmd := <-c.ch:
		return cmd, true
	case <-timer.C:
		return JoystickCommand{}, false
	case <-ctx.Done():
		return JoystickCommand{}, false
	}
}

// C exposes the receive side for select loops.
func (c *CommandChannel) C() <-chan JoystickCommand {
	return c.ch
}

// Len returns the number of queued samples.
func (c *CommandChannel) Len() int { return len(c.ch) }

// Cap returns the queue capacity.
func (c *CommandChannel) Cap() int { return cap(c.ch) }

// Dropped returns the number of samples lost to overflow.
func (c *CommandChannel) Dropped() uint64 { return c.dropped.Load() }

// Policy returns the overflow policy.
func (c *CommandChannel) Policy() OverflowPolicy { return c.policy }
