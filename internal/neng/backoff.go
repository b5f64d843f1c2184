package neng

import (
	"math"
	"time"
)

type backoffConfig struct {
	Initial    time.Duration
	Multiplier float64
	Jitter     float64
	Max        time.Duration
}

func defaultBackoff() backoffConfig {
	return backoffConfig{
		Initial:    2 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
		Max:        8 * time.Second,
	}
}

// nextDelay computes the delay before retry number attempt (0-based).
// rng must be a uniform sample in [0,1). Jitter spreads the delay over
// [delay*(1-j), delay*(1+j)] so a fleet of pollers does not retry in
// lockstep; Max caps the jittered value.
func (cfg backoffConfig) nextDelay(attempt int, rng float64) time.Duration {
	initial := cfg.Initial
	if initial <= 0 {
		initial = 2 * time.Second
	}
	multiplier := cfg.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}

	delay := float64(initial)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
	}

	if jitter := math.Min(math.Max(cfg.Jitter, 0), 1); jitter > 0 {
		delay += delay * jitter * (2*rng - 1)
	}
	if limit := float64(cfg.Max); limit > 0 && delay > limit {
		delay = limit
	}
	return time.Duration(delay)
}
