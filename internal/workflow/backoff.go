package workflow

import (
	"math"
	"math/rand/v2"
	"time"

	"portalpilot/internal/config"
)

// retryDelay is the pause before re-pulling an item that just moved to
// retrying: initial * multiplier^(retryCount-1), capped at the max delay.
func retryDelay(policy config.Retry, retryCount int) time.Duration {
	if policy.InitialDelay <= 0 || retryCount <= 0 {
		return 0
	}
	multiplier := policy.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(policy.InitialDelay) * math.Pow(multiplier, float64(retryCount-1))
	if policy.MaxDelay > 0 && delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}
	return time.Duration(delay) * time.Millisecond
}

// itemDelay returns a random pause between items.
func itemDelay(waits config.Waits) time.Duration {
	low, high := waits.ItemDelayMin, waits.ItemDelayMax
	if high <= low {
		return time.Duration(max(low, 0)) * time.Millisecond
	}
	return time.Duration(low+rand.IntN(high-low+1)) * time.Millisecond
}

// pickUserAgent returns a random entry, or "" to keep the browser default.
func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		return ""
	}
	return agents[rand.IntN(len(agents))]
}
