package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-rover/pkg/fuzzy"
)

// GeometrySetter accepts a new wheel diameter in millimetres.
type GeometrySetter interface {
	SetWheelDiameter(mm float64) error
}

// Targets are the components a ConfigUpdate may change.
type Targets struct {
	Mapper   *fuzzy.Controller
	Geometry GeometrySetter
}

// ConfigUpdate is one configuration change, applied by the scheduler
// between control cycles.
type ConfigUpdate interface {
	Apply(t Targets) error
	String() string
}

// SetMode switches the control mode.
type SetMode struct{ Mode fuzzy.Mode }

func (u SetMode) Apply(t Targets) error { return t.Mapper.SetMode(u.Mode) }
func (u SetMode) String() string        { return "control_mode=" + u.Mode.String() }

// SetCurve switches the response curve.
type SetCurve struct{ Curve fuzzy.Curve }

func (u SetCurve) Apply(t Targets) error { return t.Mapper.SetCurve(u.Curve) }
func (u SetCurve) String() string        { return "curve=" + u.Curve.String() }

// SetInversion sets per-motor direction inversion.
type SetInversion struct{ Left, Right bool }

func (u SetInversion) Apply(t Targets) error { return t.Mapper.SetInversion(u.Left, u.Right) }
func (u SetInversion) String() string {
	return fmt.Sprintf("invert=left:%t,right:%t", u.Left, u.Right)
}

// ApplyPreset replaces the profile with a named preset.
type ApplyPreset struct{ Name string }

func (u ApplyPreset) Apply(t Targets) error { return t.Mapper.ApplyPreset(u.Name) }
func (u ApplyPreset) String() string        { return "preset=" + u.Name }

// ReplaceConfig installs a complete profile.
type ReplaceConfig struct{ Config fuzzy.Config }

func (u ReplaceConfig) Apply(t Targets) error { return t.Mapper.Configure(u.Config) }
func (u ReplaceConfig) String() string        { return "config=" + u.Config.Mode.String() }

// SetWheelDiameter changes the odometry wheel size.
type SetWheelDiameter struct{ MM float64 }

func (u SetWheelDiameter) Apply(t Targets) error {
	if t.Geometry == nil {
		return ErrNoGeometry
	}
	return t.Geometry.SetWheelDiameter(u.MM)
}
func (u SetWheelDiameter) String() string { return fmt.Sprintf("wheel_diameter=%gmm", u.MM) }

// ParseUpdate converts a wire parameter/value pair into an update.
func ParseUpdate(param, value string) (ConfigUpdate, error) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(param)) {
	case "control_mode", "mode":
		m, err := fuzzy.ParseMode(value)
		if err != nil {
			return nil, err
		}
		return SetMode{Mode: m}, nil
	case "curve":
		c, err := fuzzy.ParseCurve(value)
		if err != nil {
			return nil, err
		}
		return SetCurve{Curve: c}, nil
	case "preset":
		if _, err := fuzzy.GetPreset(value); err != nil {
			return nil, err
		}
		return ApplyPreset{Name: strings.ToLower(value)}, nil
	case "invert":
		switch strings.ToLower(value) {
		case "none", "":
			return SetInversion{}, nil
		case "left":
			return SetInversion{Left: true}, nil
		case "right":
			return SetInversion{Right: true}, nil
		case "both":
			return SetInversion{Left: true, Right: true}, nil
		default:
			return nil, fmt.Errorf("%w: invert=%q", fuzzy.ErrInvalidConfig, value)
		}
	case "wheel_diameter":
		mm, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("wheel_diameter: %w", err)
		}
		return SetWheelDiameter{MM: mm}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownParam, param)
	}
}
