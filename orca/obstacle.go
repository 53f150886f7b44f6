package orca

import (
	"github.com/lixenwraith/crowd-nav/vmath"
)

// noObstacle marks an unset obstacle arena index
const noObstacle = -1

// obstacle is one directed segment of a static polygon. Segments live in the
// simulator's contiguous arena and reference their polygon neighbors by
// arena index, so traversal is O(1) without pointer lifetime concerns.
// prev/next are final once ProcessObstacles has run; the obstacle-tree build
// may insert split segments into the chain before freezing it
type obstacle struct {
	point    vmath.Vec2
	unitDir  vmath.Vec2 // Unit direction toward next vertex
	isConvex bool
	prev     int
	next     int
	id       int
}

// AddObstacle registers one closed polygon (or a single segment when exactly
// two vertices are given) and returns the arena index of its first segment,
// or -1 if fewer than two vertices are supplied. Vertices must be listed in
// counter-clockwise order for the interior to be excluded; clockwise order
// excludes the exterior, which is how bounding walls are built.
// Must be called before ProcessObstacles
func (s *Simulator) AddObstacle(vertices []vmath.Vec2) int {
	if s.obstaclesProcessed {
		panic("orca: AddObstacle called after ProcessObstacles")
	}
	if len(vertices) < 2 {
		return -1
	}

	first := len(s.obstacles)

	for i := range vertices {
		idx := len(s.obstacles)
		o := obstacle{
			point: vertices[i],
			prev:  noObstacle,
			next:  noObstacle,
			id:    idx,
		}

		if i != 0 {
			o.prev = idx - 1
			s.obstacles[idx-1].next = idx
		}
		if i == len(vertices)-1 {
			o.next = first
			s.obstacles[first].prev = idx
		}

		o.unitDir = vmath.V2Normalize(vmath.V2Sub(vertices[(i+1)%len(vertices)], vertices[i]))

		// Two-vertex "polygons" are bare segments, always convex
		if len(vertices) == 2 {
			o.isConvex = true
		} else {
			prev := vertices[(i-1+len(vertices))%len(vertices)]
			next := vertices[(i+1)%len(vertices)]
			o.isConvex = vmath.LeftOf(prev, vertices[i], next) >= 0
		}

		s.obstacles = append(s.obstacles, o)
	}

	return first
}

// ProcessObstacles finalizes the static obstacle set and builds the obstacle
// kd-tree. Call exactly once, after all AddObstacle calls; registering or
// processing obstacles again afterward panics. Adding obstacles later
// requires rebuilding the simulator from scratch
func (s *Simulator) ProcessObstacles() {
	if s.obstaclesProcessed {
		panic("orca: ProcessObstacles called twice")
	}
	s.obstaclesProcessed = true
	s.kdTree.buildObstacleTree()
}
