package fuzzy

import (
	"log/slog"
	"sync/atomic"
)

// Controller owns the active profile. Readers always see one whole Config:
// every change builds a new value and swaps the pointer.
type Controller struct {
	cfg    atomic.Pointer[Config]
	logger *slog.Logger
}

// NewController creates a controller holding DefaultConfig.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{logger: logger}
	cfg := DefaultConfig()
	c.cfg.Store(&cfg)
	return c
}

// Config returns a copy of the active profile.
func (c *Controller) Config() Config {
	return *c.cfg.Load()
}

// Configure replaces the active profile. An invalid profile is rejected
// and the active one is left untouched.
func (c *Controller) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		c.logger.Error("rejected control profile", "error", err)
		return err
	}
	c.cfg.Store(&cfg)
	c.logger.Info("control profile updated",
		"mode", cfg.Mode, "curve", cfg.Curve,
		"max_duty", cfg.MaxDuty, "min_duty", cfg.MinDuty)
	return nil
}

// update applies fn to a copy of the active profile and swaps it in.
func (c *Controller) update(fn func(*Config)) error {
	for {
		old := c.cfg.Load()
		next := *old
		fn(&next)
		if err := next.Validate(); err != nil {
			c.logger.Error("rejected control profile change", "error", err)
			return err
		}
		if c.cfg.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// SetMode changes the control mode.
func (c *Controller) SetMode(mode Mode) error {
	if err := c.update(func(cfg *Config) { cfg.Mode = mode }); err != nil {
		return err
	}
	c.logger.Info("control mode set", "mode", mode)
	return nil
}

// SetCurve changes the response curve.
func (c *Controller) SetCurve(curve Curve) error {
	if err := c.update(func(cfg *Config) { cfg.Curve = curve }); err != nil {
		return err
	}
	c.logger.Info("speed curve set", "curve", curve)
	return nil
}

// SetInversion sets motor direction inversion.
func (c *Controller) SetInversion(left, right bool) error {
	if err := c.update(func(cfg *Config) {
		cfg.InvertLeft = left
		cfg.InvertRight = right
	}); err != nil {
		return err
	}
	c.logger.Info("motor inversion set", "left", left, "right", right)
	return nil
}

// ApplyPreset swaps in a named preset. Inversion flags describe the
// wiring, not the driving style, so they carry over.
func (c *Controller) ApplyPreset(name string) error {
	preset, err := GetPreset(name)
	if err != nil {
		c.logger.Warn("unknown preset", "name", name)
		return err
	}
	if err := c.update(func(cfg *Config) {
		preset.InvertLeft = cfg.InvertLeft
		preset.InvertRight = cfg.InvertRight
		*cfg = preset
	}); err != nil {
		return err
	}
	c.logger.Info("preset applied", "preset", name)
	return nil
}

// Process maps one joystick sample with the active profile.
func (c *Controller) Process(angle, magnitude float64) MotorCommand {
	out := Process(*c.cfg.Load(), angle, magnitude)
	c.logger.Debug("joystick mapped",
		"angle", angle, "magnitude", magnitude,
		"left", out.Left, "right", out.Right)
	return out
}
