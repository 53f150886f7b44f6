package vmath

// Eps is the tolerance for robust comparisons against zero.
// Shared by the kd-tree split tests, the linear-program feasibility checks,
// and goal-convergence tests
const Eps = 1e-5

// Sqr returns x*x
func Sqr(x float64) float64 {
	return x * x
}

// LeftOf returns the signed area of the triangle (a, b, c).
// Positive when c lies to the left of the directed line a→b, negative to
// the right, zero when collinear. Used for winding/convexity classification
func LeftOf(a, b, c Vec2) float64 {
	return V2Det(V2Sub(a, c), V2Sub(b, a))
}

// DistSqPointSegment returns the squared distance from point c to the
// line segment a→b
func DistSqPointSegment(a, b, c Vec2) float64 {
	segSq := V2AbsSq(V2Sub(b, a))
	if segSq == 0 {
		return V2DistSq(c, a)
	}

	r := V2Dot(V2Sub(c, a), V2Sub(b, a)) / segSq
	if r < 0 {
		return V2DistSq(c, a)
	}
	if r > 1 {
		return V2DistSq(c, b)
	}
	return V2DistSq(c, V2Add(a, V2Scale(V2Sub(b, a), r)))
}
