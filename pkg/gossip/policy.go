package gossip

import "math/rand"

// ParticipationPolicy decides whether a node takes part in an exchange, either
// as initiator or as responder, given its current view size and target degree.
type ParticipationPolicy interface {
	Participate(rng *rand.Rand, viewSize, degree int) bool
}

// PolicyFunc adapts a plain function to ParticipationPolicy.
type PolicyFunc func(rng *rand.Rand, viewSize, degree int) bool

func (f PolicyFunc) Participate(rng *rand.Rand, viewSize, degree int) bool {
	return f(rng, viewSize, degree)
}

var (
	AlwaysParticipate = PolicyFunc(func(*rand.Rand, int, int) bool { return true })
	NeverParticipate  = PolicyFunc(func(*rand.Rand, int, int) bool { return false })
)

// ProbabilisticPolicy participates with probability Probability(viewSize, degree).
type ProbabilisticPolicy struct{}

func (ProbabilisticPolicy) Participate(rng *rand.Rand, viewSize, degree int) bool {
	p := Probability(viewSize, degree)
	if p <= 0 {
		return false
	}
	return rng.Float64() < p
}

// Probability returns min(1, viewSize/degree). The result is always in [0, 1]:
// views larger than the target degree saturate at 1, and a non-positive degree
// is treated as already saturated.
func Probability(viewSize, degree int) float64 {
	if viewSize <= 0 {
		return 0
	}
	if degree <= 0 {
		return 1
	}
	return min(1.0, float64(viewSize)/float64(degree))
}
