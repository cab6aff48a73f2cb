package lighting

import (
	"math"

	"tileworld.dev/internal/sim/tuning"
)

// GlobalLevel maps an hour of day in [0,24) to the sky light level.
// Dawn (04-08) and dusk (16-20) interpolate linearly between night and day
// and are rounded down to cfg.RoundStep.
func GlobalLevel(hour float64, cfg tuning.Lighting) float32 {
	night, day := float64(cfg.NightLevel), float64(cfg.DayLevel)
	switch {
	case hour >= 8 && hour < 16:
		return cfg.DayLevel
	case hour >= 4 && hour < 8:
		return roundDown(night+(hour-4)/4*(day-night), float64(cfg.RoundStep))
	case hour >= 16 && hour < 20:
		return roundDown(day-(hour-16)/4*(day-night), float64(cfg.RoundStep))
	default:
		return cfg.NightLevel
	}
}

func roundDown(v, step float64) float32 {
	if step <= 0 {
		return float32(v)
	}
	// epsilon keeps exact multiples (0.2/0.05) from flooring one step low
	return float32(math.Floor(v/step+1e-6) * step)
}

// AmbientColumn fills out (len = column height) for a column whose first
// solid tile is at row surface. Rows at or above the surface see the sky.
func AmbientColumn(level, falloff float32, surface int, out []float32) {
	for y := range out {
		if y <= surface {
			out[y] = level
			continue
		}
		v := level - float32(y-surface)*falloff
		if v < 0 {
			v = 0
		}
		out[y] = v
	}
}
