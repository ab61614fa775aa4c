package domain

// Positions are plain ints in {-1, 0, +1}: short, flat, long. Strategies emit
// one per bar; the live loop consumes only the most recent one.

// SpotTarget maps a desired position in {-1, 0, +1} to a spot-only target in
// {0, 1}. Spot accounts cannot be structurally short, so -1 collapses to flat.
func SpotTarget(desired int) int {
	if desired > 0 {
		return 1
	}
	return 0
}
