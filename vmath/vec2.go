package vmath

import (
	"math"
)

// Vec2 is a float64 2D vector used throughout the navigation engine.
// Plain value type; the hot loop relies on these staying on the stack,
// so no pointer-receiver or in-place variants exist.
type Vec2 struct {
	X, Y float64
}

func V2Add(a, b Vec2) Vec2 {
	return Vec2{a.X + b.X, a.Y + b.Y}
}

func V2Sub(a, b Vec2) Vec2 {
	return Vec2{a.X - b.X, a.Y - b.Y}
}

func V2Neg(v Vec2) Vec2 {
	return Vec2{-v.X, -v.Y}
}

func V2Scale(v Vec2, s float64) Vec2 {
	return Vec2{v.X * s, v.Y * s}
}

// V2Dot returns the scalar product a·b
func V2Dot(a, b Vec2) float64 {
	return a.X*b.X + a.Y*b.Y
}

// V2Det returns the 2D cross product (determinant) of a and b.
// Positive when b is counter-clockwise from a
func V2Det(a, b Vec2) float64 {
	return a.X*b.Y - a.Y*b.X
}

// V2AbsSq returns squared magnitude without sqrt
func V2AbsSq(v Vec2) float64 {
	return v.X*v.X + v.Y*v.Y
}

func V2Abs(v Vec2) float64 {
	return math.Sqrt(V2AbsSq(v))
}

// V2Perp returns v rotated 90° counter-clockwise
func V2Perp(v Vec2) Vec2 {
	return Vec2{-v.Y, v.X}
}

// V2Normalize returns the unit vector, zero-safe: a zero input yields a
// zero output rather than NaN. Callers that cannot tolerate a zero result
// must guard the input themselves
func V2Normalize(v Vec2) Vec2 {
	mag := V2Abs(v)
	if mag == 0 {
		return Vec2{}
	}
	inv := 1.0 / mag
	return Vec2{v.X * inv, v.Y * inv}
}

func V2DistSq(a, b Vec2) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}

func V2Dist(a, b Vec2) float64 {
	return math.Sqrt(V2DistSq(a, b))
}

// V2ClampMagnitude limits v to maxMag while preserving direction.
// Returns v unchanged if its magnitude is within the bound
func V2ClampMagnitude(v Vec2, maxMag float64) Vec2 {
	if V2AbsSq(v) <= maxMag*maxMag {
		return v
	}
	return V2Scale(V2Normalize(v), maxMag)
}
