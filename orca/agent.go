package orca

import (
	"math"

	"github.com/lixenwraith/crowd-nav/vmath"
)

// agentNeighbor is one nearby agent, keyed by squared distance for the
// insertion-sorted neighbor list
type agentNeighbor struct {
	distSq float64
	agent  *agent
}

// obstacleNeighbor is one nearby obstacle segment (arena index)
type obstacleNeighbor struct {
	distSq      float64
	obstacleIdx int
}

// agent holds the kinematic state of one simulated agent plus per-tick
// scratch lists. The neighbor and ORCA-line slices are cleared and rebuilt
// every tick; their backing arrays are reused across ticks
type agent struct {
	sim *Simulator
	id  int

	position     vmath.Vec2
	velocity     vmath.Vec2
	prefVelocity vmath.Vec2
	newVelocity  vmath.Vec2
	goal         vmath.Vec2

	radius          float64
	maxSpeed        float64
	neighborDist    float64
	maxNeighbors    int
	timeHorizon     float64
	timeHorizonObst float64

	agentNeighbors    []agentNeighbor
	obstacleNeighbors []obstacleNeighbor
	orcaLines         []Line
}

// computeNeighbors rebuilds both neighbor lists from the spatial index.
// Obstacle range covers everything reachable within the obstacle time
// horizon at full speed plus the agent's own radius
func (a *agent) computeNeighbors() {
	a.obstacleNeighbors = a.obstacleNeighbors[:0]
	rangeSq := vmath.Sqr(a.timeHorizonObst*a.maxSpeed + a.radius)
	a.sim.kdTree.computeObstacleNeighbors(a, rangeSq)

	a.agentNeighbors = a.agentNeighbors[:0]
	if a.maxNeighbors > 0 {
		rangeSq = vmath.Sqr(a.neighborDist)
		a.sim.kdTree.computeAgentNeighbors(a, rangeSq)
	}
}

// insertAgentNeighbor inserts other into the distance-ordered neighbor list
// if it is within range. Once the list is full the search range shrinks to
// the current worst neighbor, pruning the remaining tree walk
func (a *agent) insertAgentNeighbor(other *agent, rangeSq *float64) {
	if a == other {
		return
	}

	distSq := vmath.V2DistSq(a.position, other.position)
	if distSq >= *rangeSq {
		return
	}

	if len(a.agentNeighbors) < a.maxNeighbors {
		a.agentNeighbors = append(a.agentNeighbors, agentNeighbor{distSq, other})
	}

	i := len(a.agentNeighbors) - 1
	for i != 0 && distSq < a.agentNeighbors[i-1].distSq {
		a.agentNeighbors[i] = a.agentNeighbors[i-1]
		i--
	}
	a.agentNeighbors[i] = agentNeighbor{distSq, other}

	if len(a.agentNeighbors) == a.maxNeighbors {
		*rangeSq = a.agentNeighbors[len(a.agentNeighbors)-1].distSq
	}
}

// insertObstacleNeighbor inserts the segment into the distance-ordered
// obstacle list if it is within range. The list is not capped
func (a *agent) insertObstacleNeighbor(obstacleIdx int, rangeSq float64) {
	o := &a.sim.obstacles[obstacleIdx]
	next := &a.sim.obstacles[o.next]

	distSq := vmath.DistSqPointSegment(o.point, next.point, a.position)
	if distSq >= rangeSq {
		return
	}

	a.obstacleNeighbors = append(a.obstacleNeighbors, obstacleNeighbor{distSq, obstacleIdx})

	i := len(a.obstacleNeighbors) - 1
	for i != 0 && distSq < a.obstacleNeighbors[i-1].distSq {
		a.obstacleNeighbors[i] = a.obstacleNeighbors[i-1]
		i--
	}
	a.obstacleNeighbors[i] = obstacleNeighbor{distSq, obstacleIdx}
}

// computeNewVelocity derives the ORCA half-plane constraints from the
// neighbor lists and solves the bounded linear program for the admissible
// velocity closest to the preferred velocity. Obstacle lines are built
// first: they are hard constraints and keep priority in the fallback phase
func (a *agent) computeNewVelocity() {
	a.orcaLines = a.orcaLines[:0]

	invTimeHorizonObst := 1.0 / a.timeHorizonObst

	for k := range a.obstacleNeighbors {
		obstacle1 := &a.sim.obstacles[a.obstacleNeighbors[k].obstacleIdx]
		obstacle2 := &a.sim.obstacles[obstacle1.next]

		relativePosition1 := vmath.V2Sub(obstacle1.point, a.position)
		relativePosition2 := vmath.V2Sub(obstacle2.point, a.position)

		// Skip this segment if its velocity obstacle is already covered by
		// a previously built obstacle line
		alreadyCovered := false
		for j := range a.orcaLines {
			if vmath.V2Det(vmath.V2Sub(vmath.V2Scale(relativePosition1, invTimeHorizonObst), a.orcaLines[j].Point),
				a.orcaLines[j].Direction)-invTimeHorizonObst*a.radius >= -vmath.Eps &&
				vmath.V2Det(vmath.V2Sub(vmath.V2Scale(relativePosition2, invTimeHorizonObst), a.orcaLines[j].Point),
					a.orcaLines[j].Direction)-invTimeHorizonObst*a.radius >= -vmath.Eps {
				alreadyCovered = true
				break
			}
		}
		if alreadyCovered {
			continue
		}

		distSq1 := vmath.V2AbsSq(relativePosition1)
		distSq2 := vmath.V2AbsSq(relativePosition2)
		radiusSq := vmath.Sqr(a.radius)

		obstacleVector := vmath.V2Sub(obstacle2.point, obstacle1.point)
		s := vmath.V2Dot(vmath.V2Neg(relativePosition1), obstacleVector) / vmath.V2AbsSq(obstacleVector)
		distSqLine := vmath.V2AbsSq(vmath.V2Sub(vmath.V2Neg(relativePosition1), vmath.V2Scale(obstacleVector, s)))

		switch {
		case s < 0 && distSq1 <= radiusSq:
			// Collision with left endpoint
			if obstacle1.isConvex {
				a.orcaLines = append(a.orcaLines, Line{
					Direction: vmath.V2Normalize(vmath.Vec2{X: -relativePosition1.Y, Y: relativePosition1.X}),
				})
			}
			continue

		case s > 1 && distSq2 <= radiusSq:
			// Collision with right endpoint; constrain only if the agent is
			// not behind the next segment (that segment takes over)
			if obstacle2.isConvex && vmath.V2Det(relativePosition2, obstacle2.unitDir) >= 0 {
				a.orcaLines = append(a.orcaLines, Line{
					Direction: vmath.V2Normalize(vmath.Vec2{X: -relativePosition2.Y, Y: relativePosition2.X}),
				})
			}
			continue

		case s >= 0 && s < 1 && distSqLine <= radiusSq:
			// Collision with the segment body
			a.orcaLines = append(a.orcaLines, Line{
				Direction: vmath.V2Neg(obstacle1.unitDir),
			})
			continue
		}

		// No collision: compute the legs of the velocity-obstacle cone.
		// When the agent sits beyond an endpoint the cone collapses to that
		// endpoint's circle and both legs attach to it
		var leftLegDirection, rightLegDirection vmath.Vec2

		switch {
		case s < 0 && distSqLine <= radiusSq:
			if !obstacle1.isConvex {
				continue
			}
			obstacle2 = obstacle1

			leg1 := math.Sqrt(distSq1 - radiusSq)
			leftLegDirection = vmath.V2Scale(vmath.Vec2{
				X: relativePosition1.X*leg1 - relativePosition1.Y*a.radius,
				Y: relativePosition1.X*a.radius + relativePosition1.Y*leg1,
			}, 1/distSq1)
			rightLegDirection = vmath.V2Scale(vmath.Vec2{
				X: relativePosition1.X*leg1 + relativePosition1.Y*a.radius,
				Y: -relativePosition1.X*a.radius + relativePosition1.Y*leg1,
			}, 1/distSq1)

		case s > 1 && distSqLine <= radiusSq:
			if !obstacle2.isConvex {
				continue
			}
			obstacle1 = obstacle2

			leg2 := math.Sqrt(distSq2 - radiusSq)
			leftLegDirection = vmath.V2Scale(vmath.Vec2{
				X: relativePosition2.X*leg2 - relativePosition2.Y*a.radius,
				Y: relativePosition2.X*a.radius + relativePosition2.Y*leg2,
			}, 1/distSq2)
			rightLegDirection = vmath.V2Scale(vmath.Vec2{
				X: relativePosition2.X*leg2 + relativePosition2.Y*a.radius,
				Y: -relativePosition2.X*a.radius + relativePosition2.Y*leg2,
			}, 1/distSq2)

		default:
			if obstacle1.isConvex {
				leg1 := math.Sqrt(distSq1 - radiusSq)
				leftLegDirection = vmath.V2Scale(vmath.Vec2{
					X: relativePosition1.X*leg1 - relativePosition1.Y*a.radius,
					Y: relativePosition1.X*a.radius + relativePosition1.Y*leg1,
				}, 1/distSq1)
			} else {
				// Reflex vertex: left leg extends along the segment
				leftLegDirection = vmath.V2Neg(obstacle1.unitDir)
			}

			if obstacle2.isConvex {
				leg2 := math.Sqrt(distSq2 - radiusSq)
				rightLegDirection = vmath.V2Scale(vmath.Vec2{
					X: relativePosition2.X*leg2 + relativePosition2.Y*a.radius,
					Y: -relativePosition2.X*a.radius + relativePosition2.Y*leg2,
				}, 1/distSq2)
			} else {
				rightLegDirection = obstacle1.unitDir
			}
		}

		// Legs that point into a convex neighboring segment are "foreign":
		// that segment constrains those velocities, so the leg is replaced
		// by the neighbor's direction and never emitted as a constraint
		leftNeighbor := &a.sim.obstacles[obstacle1.prev]

		isLeftLegForeign := false
		isRightLegForeign := false

		if obstacle1.isConvex && vmath.V2Det(leftLegDirection, vmath.V2Neg(leftNeighbor.unitDir)) >= 0 {
			leftLegDirection = vmath.V2Neg(leftNeighbor.unitDir)
			isLeftLegForeign = true
		}
		if obstacle2.isConvex && vmath.V2Det(rightLegDirection, obstacle2.unitDir) <= 0 {
			rightLegDirection = obstacle2.unitDir
			isRightLegForeign = true
		}

		leftCutoff := vmath.V2Scale(vmath.V2Sub(obstacle1.point, a.position), invTimeHorizonObst)
		rightCutoff := vmath.V2Scale(vmath.V2Sub(obstacle2.point, a.position), invTimeHorizonObst)
		cutoffVec := vmath.V2Sub(rightCutoff, leftCutoff)

		// Project current velocity onto the velocity obstacle and constrain
		// at the nearest of cutoff arc, left leg, right leg
		t := 0.5
		if obstacle1 != obstacle2 {
			t = vmath.V2Dot(vmath.V2Sub(a.velocity, leftCutoff), cutoffVec) / vmath.V2AbsSq(cutoffVec)
		}
		tLeft := vmath.V2Dot(vmath.V2Sub(a.velocity, leftCutoff), leftLegDirection)
		tRight := vmath.V2Dot(vmath.V2Sub(a.velocity, rightCutoff), rightLegDirection)

		if (t < 0 && tLeft < 0) || (obstacle1 == obstacle2 && tLeft < 0 && tRight < 0) {
			// Project on left cutoff circle
			unitW := vmath.V2Normalize(vmath.V2Sub(a.velocity, leftCutoff))
			a.orcaLines = append(a.orcaLines, Line{
				Direction: vmath.Vec2{X: unitW.Y, Y: -unitW.X},
				Point:     vmath.V2Add(leftCutoff, vmath.V2Scale(unitW, a.radius*invTimeHorizonObst)),
			})
			continue
		}

		if t > 1 && tRight < 0 {
			// Project on right cutoff circle
			unitW := vmath.V2Normalize(vmath.V2Sub(a.velocity, rightCutoff))
			a.orcaLines = append(a.orcaLines, Line{
				Direction: vmath.Vec2{X: unitW.Y, Y: -unitW.X},
				Point:     vmath.V2Add(rightCutoff, vmath.V2Scale(unitW, a.radius*invTimeHorizonObst)),
			})
			continue
		}

		distSqCutoff := math.Inf(1)
		if !(t < 0 || t > 1 || obstacle1 == obstacle2) {
			distSqCutoff = vmath.V2DistSq(a.velocity, vmath.V2Add(leftCutoff, vmath.V2Scale(cutoffVec, t)))
		}
		distSqLeft := math.Inf(1)
		if tLeft >= 0 {
			distSqLeft = vmath.V2DistSq(a.velocity, vmath.V2Add(leftCutoff, vmath.V2Scale(leftLegDirection, tLeft)))
		}
		distSqRight := math.Inf(1)
		if tRight >= 0 {
			distSqRight = vmath.V2DistSq(a.velocity, vmath.V2Add(rightCutoff, vmath.V2Scale(rightLegDirection, tRight)))
		}

		switch {
		case distSqCutoff <= distSqLeft && distSqCutoff <= distSqRight:
			// Project on cutoff line
			direction := vmath.V2Neg(obstacle1.unitDir)
			a.orcaLines = append(a.orcaLines, Line{
				Direction: direction,
				Point:     vmath.V2Add(leftCutoff, vmath.V2Scale(vmath.V2Perp(direction), a.radius*invTimeHorizonObst)),
			})

		case distSqLeft <= distSqRight:
			if isLeftLegForeign {
				continue
			}
			a.orcaLines = append(a.orcaLines, Line{
				Direction: leftLegDirection,
				Point:     vmath.V2Add(leftCutoff, vmath.V2Scale(vmath.V2Perp(leftLegDirection), a.radius*invTimeHorizonObst)),
			})

		default:
			if isRightLegForeign {
				continue
			}
			direction := vmath.V2Neg(rightLegDirection)
			a.orcaLines = append(a.orcaLines, Line{
				Direction: direction,
				Point:     vmath.V2Add(rightCutoff, vmath.V2Scale(vmath.V2Perp(direction), a.radius*invTimeHorizonObst)),
			})
		}
	}

	numObstLines := len(a.orcaLines)

	invTimeHorizon := 1.0 / a.timeHorizon

	for k := range a.agentNeighbors {
		other := a.agentNeighbors[k].agent

		relativePosition := vmath.V2Sub(other.position, a.position)
		relativeVelocity := vmath.V2Sub(a.velocity, other.velocity)
		distSq := vmath.V2AbsSq(relativePosition)
		combinedRadius := a.radius + other.radius
		combinedRadiusSq := vmath.Sqr(combinedRadius)

		var line Line
		var u vmath.Vec2

		if distSq > combinedRadiusSq {
			// No current collision: constrain against the velocity obstacle
			// truncated at the time horizon
			w := vmath.V2Sub(relativeVelocity, vmath.V2Scale(relativePosition, invTimeHorizon))
			wLengthSq := vmath.V2AbsSq(w)

			dotProduct1 := vmath.V2Dot(w, relativePosition)

			// w collinear with relativePosition means an exactly head-on
			// closing pair. The cutoff-circle projection then emits a purely
			// axial constraint and two mirrored agents stall at contact;
			// such configurations project on a leg instead, which tilts the
			// constraint and yields opposite lateral motion on the two sides
			headOn := vmath.Sqr(vmath.V2Det(relativePosition, w)) <=
				vmath.Sqr(vmath.Eps)*distSq*wLengthSq

			if dotProduct1 < 0 && vmath.Sqr(dotProduct1) > combinedRadiusSq*wLengthSq && !headOn {
				// Project on cutoff circle
				wLength := math.Sqrt(wLengthSq)
				unitW := vmath.V2Scale(w, 1/wLength)

				line.Direction = vmath.Vec2{X: unitW.Y, Y: -unitW.X}
				u = vmath.V2Scale(unitW, combinedRadius*invTimeHorizon-wLength)
			} else {
				// Project on the nearer leg
				leg := math.Sqrt(distSq - combinedRadiusSq)
				if vmath.V2Det(relativePosition, w) > 0 {
					line.Direction = vmath.V2Scale(vmath.Vec2{
						X: relativePosition.X*leg - relativePosition.Y*combinedRadius,
						Y: relativePosition.X*combinedRadius + relativePosition.Y*leg,
					}, 1/distSq)
				} else {
					line.Direction = vmath.V2Neg(vmath.V2Scale(vmath.Vec2{
						X: relativePosition.X*leg + relativePosition.Y*combinedRadius,
						Y: -relativePosition.X*combinedRadius + relativePosition.Y*leg,
					}, 1/distSq))
				}

				dotProduct2 := vmath.V2Dot(relativeVelocity, line.Direction)
				u = vmath.V2Sub(vmath.V2Scale(line.Direction, dotProduct2), relativeVelocity)
			}
		} else {
			// Already colliding: cut off at the current time step for an
			// urgent separation constraint
			invTimeStep := 1.0 / a.sim.timeStep

			w := vmath.V2Sub(relativeVelocity, vmath.V2Scale(relativePosition, invTimeStep))
			wLength := vmath.V2Abs(w)
			unitW := vmath.V2Scale(w, 1/wLength)

			line.Direction = vmath.Vec2{X: unitW.Y, Y: -unitW.X}
			u = vmath.V2Scale(unitW, combinedRadius*invTimeStep-wLength)
		}

		// Reciprocity: each agent takes half the correction
		line.Point = vmath.V2Add(a.velocity, vmath.V2Scale(u, 0.5))
		a.orcaLines = append(a.orcaLines, line)
	}

	lineFail := linearProgram2(a.orcaLines, a.maxSpeed, a.prefVelocity, false, &a.newVelocity)
	if lineFail < len(a.orcaLines) {
		linearProgram3(a.orcaLines, numObstLines, lineFail, a.maxSpeed, &a.newVelocity)
	}
}

// update commits the solved velocity and integrates position over one time
// step. Run calls this for every agent only after all agents have solved,
// so all solves within a tick observe the same snapshot
func (a *agent) update() {
	a.velocity = a.newVelocity
	a.position = vmath.V2Add(a.position, vmath.V2Scale(a.velocity, a.sim.timeStep))
}

// linearProgram1 solves the 1D program along line lineNo: the feasible
// interval is the chord of the maxSpeed disk, narrowed by every previously
// satisfied line. Returns false when infeasible, including when floating
// point degeneracy produces a NaN candidate
func linearProgram1(lines []Line, lineNo int, radius float64, optVelocity vmath.Vec2, directionOpt bool, result *vmath.Vec2) bool {
	dotProduct := vmath.V2Dot(lines[lineNo].Point, lines[lineNo].Direction)
	discriminant := vmath.Sqr(dotProduct) + vmath.Sqr(radius) - vmath.V2AbsSq(lines[lineNo].Point)

	if discriminant < 0 {
		// Max speed circle fully invalidates line lineNo
		return false
	}

	sqrtDiscriminant := math.Sqrt(discriminant)
	tLeft := -dotProduct - sqrtDiscriminant
	tRight := -dotProduct + sqrtDiscriminant

	for i := 0; i < lineNo; i++ {
		denominator := vmath.V2Det(lines[lineNo].Direction, lines[i].Direction)
		numerator := vmath.V2Det(lines[i].Direction, vmath.V2Sub(lines[lineNo].Point, lines[i].Point))

		if math.Abs(denominator) <= vmath.Eps {
			// Lines lineNo and i are (almost) parallel
			if numerator < 0 {
				return false
			}
			continue
		}

		t := numerator / denominator
		if denominator >= 0 {
			// Line i bounds line lineNo on the right
			if t < tRight {
				tRight = t
			}
		} else {
			if t > tLeft {
				tLeft = t
			}
		}

		if tLeft > tRight {
			return false
		}
	}

	if directionOpt {
		// Optimize direction
		if vmath.V2Dot(optVelocity, lines[lineNo].Direction) > 0 {
			*result = vmath.V2Add(lines[lineNo].Point, vmath.V2Scale(lines[lineNo].Direction, tRight))
		} else {
			*result = vmath.V2Add(lines[lineNo].Point, vmath.V2Scale(lines[lineNo].Direction, tLeft))
		}
	} else {
		// Optimize closest point
		t := vmath.V2Dot(lines[lineNo].Direction, vmath.V2Sub(optVelocity, lines[lineNo].Point))
		switch {
		case t < tLeft:
			*result = vmath.V2Add(lines[lineNo].Point, vmath.V2Scale(lines[lineNo].Direction, tLeft))
		case t > tRight:
			*result = vmath.V2Add(lines[lineNo].Point, vmath.V2Scale(lines[lineNo].Direction, tRight))
		default:
			*result = vmath.V2Add(lines[lineNo].Point, vmath.V2Scale(lines[lineNo].Direction, t))
		}
	}

	if math.IsNaN(result.X) || math.IsNaN(result.Y) {
		// Degenerate constraint geometry; treat as infeasible rather than
		// letting NaN reach agent state
		return false
	}

	return true
}

// linearProgram2 solves the 2D program: the point in the maxSpeed disk
// satisfying all lines, closest to optVelocity (or extremal in its
// direction when directionOpt). Constraints are added incrementally; when
// line i invalidates the candidate, the solution moves onto line i via
// linearProgram1. Returns len(lines) on success, otherwise the index of the
// first infeasible line with *result holding the last feasible candidate
func linearProgram2(lines []Line, radius float64, optVelocity vmath.Vec2, directionOpt bool, result *vmath.Vec2) int {
	switch {
	case directionOpt:
		// optVelocity is a unit direction in this case
		*result = vmath.V2Scale(optVelocity, radius)
	case vmath.V2AbsSq(optVelocity) > vmath.Sqr(radius):
		*result = vmath.V2Scale(vmath.V2Normalize(optVelocity), radius)
	default:
		*result = optVelocity
	}

	for i := range lines {
		if vmath.V2Det(lines[i].Direction, vmath.V2Sub(lines[i].Point, *result)) > 0 {
			tempResult := *result
			if !linearProgram1(lines, i, radius, optVelocity, directionOpt, result) {
				*result = tempResult
				return i
			}
		}
	}

	return len(lines)
}

// linearProgram3 recovers a compromise velocity when the incremental solve
// failed at beginLine: obstacle lines stay hard; each failing agent line in
// turn is relaxed by re-solving over the obstacle lines plus synthetic lines
// halfway between pairs of violated agent constraints, optimizing for the
// direction that minimizes the worst violation
func linearProgram3(lines []Line, numObstLines, beginLine int, radius float64, result *vmath.Vec2) {
	distance := 0.0

	for i := beginLine; i < len(lines); i++ {
		if vmath.V2Det(lines[i].Direction, vmath.V2Sub(lines[i].Point, *result)) <= distance {
			continue
		}

		// Result does not satisfy constraint i within the current worst
		// violation: re-solve with i as the objective direction
		projLines := make([]Line, numObstLines, i)
		copy(projLines, lines[:numObstLines])

		for j := numObstLines; j < i; j++ {
			var line Line

			determinant := vmath.V2Det(lines[i].Direction, lines[j].Direction)
			if math.Abs(determinant) <= vmath.Eps {
				if vmath.V2Dot(lines[i].Direction, lines[j].Direction) > 0 {
					// Line i and line j point in the same direction
					continue
				}
				// Opposite directions: bisect
				line.Point = vmath.V2Scale(vmath.V2Add(lines[i].Point, lines[j].Point), 0.5)
			} else {
				line.Point = vmath.V2Add(lines[i].Point, vmath.V2Scale(lines[i].Direction,
					vmath.V2Det(lines[j].Direction, vmath.V2Sub(lines[i].Point, lines[j].Point))/determinant))
			}

			line.Direction = vmath.V2Normalize(vmath.V2Sub(lines[j].Direction, lines[i].Direction))
			projLines = append(projLines, line)
		}

		tempResult := *result
		if linearProgram2(projLines, radius, vmath.V2Perp(lines[i].Direction), true, result) < len(projLines) {
			// This should in principle not happen: the result is by
			// definition already in the feasible region of this program.
			// If it does, it is due to small floating point error; keep the
			// current result
			*result = tempResult
		}

		distance = vmath.V2Det(lines[i].Direction, vmath.V2Sub(lines[i].Point, *result))
	}
}
