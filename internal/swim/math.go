package swim

import "math"

// logFactor returns log(N) for N = member count, treating N<1 as 1 so
// callers never take log of zero. Shared by suspicion timeout (§4.5)
// and dissemination limit (§4.4) scaling.
func logFactor(n int) float64 {
	if n < 1 {
		n = 1
	}
	return math.Log(float64(n))
}
