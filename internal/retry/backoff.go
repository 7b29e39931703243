package retry

import "time"

// Algorithm selects how delays grow between attempts.
type Algorithm string

const (
	AlgorithmExponential Algorithm = "exponential"
	AlgorithmLinear      Algorithm = "linear"
	AlgorithmFixed       Algorithm = "fixed"
	AlgorithmAdaptive    Algorithm = "adaptive"
)

// Adaptive backoff inflates exponential delays once the upstream has
// failed this many times in a row.
const (
	adaptiveFailureThreshold = 3
	adaptiveMultiplier       = 1.5
)

// ParseAlgorithm maps a name to an Algorithm. Unknown names fall back
// to exponential and report ok=false.
func ParseAlgorithm(name string) (Algorithm, bool) {
	switch Algorithm(name) {
	case AlgorithmExponential, AlgorithmLinear, AlgorithmFixed, AlgorithmAdaptive:
		return Algorithm(name), true
	case "":
		return AlgorithmExponential, true
	default:
		return AlgorithmExponential, false
	}
}

// backoffDelay computes the pre-jitter delay for a zero-based attempt,
// clamped to the policy maximum. consecutiveFailures feeds the adaptive
// algorithm; the others ignore it.
func (p Policy) backoffDelay(attempt, consecutiveFailures int) time.Duration {
	var d time.Duration

	switch p.Algorithm {
	case AlgorithmLinear:
		d = p.BaseDelay * time.Duration(attempt+1)
	case AlgorithmFixed:
		d = p.BaseDelay
	case AlgorithmAdaptive:
		d = doubleDelay(p.BaseDelay, p.MaxDelay, attempt)
		if consecutiveFailures > adaptiveFailureThreshold {
			d = time.Duration(float64(d) * adaptiveMultiplier)
		}
	default:
		d = doubleDelay(p.BaseDelay, p.MaxDelay, attempt)
	}

	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// doubleDelay doubles base once per attempt, clamping at max before
// overflow can occur.
func doubleDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max || d < 0 {
			return max
		}
	}
	return d
}
