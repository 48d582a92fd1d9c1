package fuzzy

import "math"

// smoothTurnScale softens the turn factor in ModeSmooth.
const smoothTurnScale = 0.7

// Mapper mixes a normalized angle and shaped magnitude into wheel speeds
// in [-1, 1]. There is exactly one implementation per Mode.
type Mapper interface {
	Map(angle, magnitude float64, cfg Config) (left, right float64)
}

// ArcadeMixer mixes forward speed with a scaled turn rate.
type ArcadeMixer struct{}

// Map implements Mapper.
func (ArcadeMixer) Map(angle, magnitude float64, cfg Config) (left, right float64) {
	return mix(angle, magnitude, cfg.TurnFactor)
}

// TankMixer uses the full lateral component; TurnFactor is ignored.
type TankMixer struct{}

// Map implements Mapper.
func (TankMixer) Map(angle, magnitude float64, _ Config) (left, right float64) {
	return mix(angle, magnitude, 1)
}

// CarMixer keeps the outer wheel at full forward speed and slows the inner one.
type CarMixer struct{}

// Map implements Mapper.
func (CarMixer) Map(angle, magnitude float64, cfg Config) (left, right float64) {
	forward := math.Sin(angle)
	lateral := math.Cos(angle)
	reduced := forward * (1 - math.Abs(lateral)*cfg.TurnFactor)

	if lateral > 0 {
		left, right = forward, reduced
	} else {
		left, right = reduced, forward
	}
	return clamp(left*magnitude, -1, 1), clamp(right*magnitude, -1, 1)
}

// SmoothMixer is ArcadeMixer with a gentler turn.
type SmoothMixer struct{}

// Map implements Mapper.
func (SmoothMixer) Map(angle, magnitude float64, cfg Config) (left, right float64) {
	return mix(angle, magnitude, cfg.TurnFactor*smoothTurnScale)
}

var mappers = [...]Mapper{
	ModeArcade: ArcadeMixer{},
	ModeTank:   TankMixer{},
	ModeCar:    CarMixer{},
	ModeSmooth: SmoothMixer{},
}

// Mapper returns the mixer for m. Undefined modes mix as Arcade.
func (m Mode) Mapper() Mapper {
	if !m.Valid() {
		return ArcadeMixer{}
	}
	return mappers[m]
}

func mix(angle, magnitude, turn float64) (left, right float64) {
	x := magnitude * math.Cos(angle)
	y := magnitude * math.Sin(angle)
	return clamp(y+x*turn, -1, 1), clamp(y-x*turn, -1, 1)
}

// Process runs one joystick sample through cfg and returns the duty pair.
// It is a pure function of its arguments.
func Process(cfg Config, angle, magnitude float64) MotorCommand {
	// The comparison is written so NaN magnitudes also stop.
	if !(magnitude >= cfg.DeadZone) {
		return MotorCommand{}
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return MotorCommand{}
	}

	m := (magnitude - cfg.DeadZone) / (1 - cfg.DeadZone)
	if m <= 0 {
		return MotorCommand{}
	}
	m = cfg.Curve.Apply(clamp(m, 0, 1))

	left, right := cfg.Mode.Mapper().Map(NormalizeAngle(angle), m, cfg)

	out := MotorCommand{
		Left:  applyMinDuty(scale(left, cfg.MaxDuty), cfg.MinDuty),
		Right: applyMinDuty(scale(right, cfg.MaxDuty), cfg.MinDuty),
	}
	if cfg.InvertLeft {
		out.Left = -out.Left
	}
	if cfg.InvertRight {
		out.Right = -out.Right
	}
	return out
}

// Smooth blends current toward target: alpha*target + (1-alpha)*current.
// alpha is clamped to [0,1]; higher is faster.
func Smooth(current, target MotorCommand, alpha float64) MotorCommand {
	if math.IsNaN(alpha) {
		alpha = 0
	}
	alpha = clamp(alpha, 0, 1)
	return MotorCommand{
		Left:  int16(alpha*float64(target.Left) + (1-alpha)*float64(current.Left)),
		Right: int16(alpha*float64(target.Right) + (1-alpha)*float64(current.Right)),
	}
}

// NormalizeAngle wraps a finite angle into [0, 2π).
func NormalizeAngle(angle float64) float64 {
	a := math.Mod(angle, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	// a+2π can round up to exactly 2π for tiny negative inputs.
	if a >= 2*math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

func scale(speed float64, maxDuty int16) int16 {
	return int16(speed * float64(maxDuty))
}

func applyMinDuty(duty, minDuty int16) int16 {
	switch {
	case duty > 0 && duty < minDuty:
		return minDuty
	case duty < 0 && duty > -minDuty:
		return -minDuty
	default:
		return duty
	}
}

// clamp restricts v to the range [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
