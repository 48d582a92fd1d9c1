package fuzzy

import (
	"fmt"
	"strings"
)

// Preset names for common driving profiles.
const (
	PresetGentle     = "gentle"
	PresetNormal     = "normal"
	PresetAggressive = "aggressive"
	PresetPrecision  = "precision"
)

// Presets returns all available preset profiles.
func Presets() map[string]Config {
	return map[string]Config{
		PresetGentle:     GentleConfig(),
		PresetNormal:     NormalConfig(),
		PresetAggressive: AggressiveConfig(),
		PresetPrecision:  PrecisionConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetGentle,
		PresetNormal,
		PresetAggressive,
		PresetPrecision,
	}
}

// GetPreset returns a preset profile by name.
func GetPreset(name string) (Config, error) {
	cfg, ok := Presets()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return cfg, nil
}

// GentleConfig is smooth and beginner friendly.
func GentleConfig() Config {
	return Config{
		Mode:       ModeSmooth,
		Curve:      CurveQuadratic,
		DeadZone:   0.10,
		TurnFactor: 0.5,
		MaxDuty:    180,
		MinDuty:    40,
	}
}

// NormalConfig is balanced control.
func NormalConfig() Config {
	return Config{
		Mode:       ModeArcade,
		Curve:      CurveQuadratic,
		DeadZone:   0.08,
		TurnFactor: 0.7,
		MaxDuty:    255,
		MinDuty:    35,
	}
}

// AggressiveConfig is fast and responsive.
func AggressiveConfig() Config {
	return Config{
		Mode:       ModeTank,
		Curve:      CurveLinear,
		DeadZone:   0.05,
		TurnFactor: 1.0,
		MaxDuty:    255,
		MinDuty:    30,
	}
}

// PrecisionConfig is fine control at limited speed.
func PrecisionConfig() Config {
	return Config{
		Mode:       ModeCar,
		Curve:      CurveCubic,
		DeadZone:   0.08,
		TurnFactor: 0.6,
		MaxDuty:    150,
		MinDuty:    40,
	}
}
