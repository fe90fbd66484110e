// Package util provides common utility functions for price calculations.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// NearestStrike picks the strike closest to target from the candidates.
// Ties between an equally distant lower and higher strike go to the lower
// one. Returns false when candidates is empty.
func NearestStrike(target float64, candidates []float64) (float64, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	best := candidates[0]
	bestDist := math.Abs(best - target)
	for _, c := range candidates[1:] {
		dist := math.Abs(c - target)
		if dist < bestDist || (dist == bestDist && c < best) {
			best = c
			bestDist = dist
		}
	}
	return best, true
}
