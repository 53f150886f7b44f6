package orca

import (
	"github.com/lixenwraith/crowd-nav/vmath"
)

// Line is a directed half-plane boundary in velocity space.
// The admissible side is the left of the directed line: candidate
// velocities v with det(Direction, v-Point) < 0 are excluded
type Line struct {
	Point     vmath.Vec2
	Direction vmath.Vec2
}
