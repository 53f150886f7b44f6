package orca

import (
	"github.com/lixenwraith/crowd-nav/vmath"
)

// defaultMaxLeafSize is the agent-tree leaf bucket size. Subtrees at or
// below this size are scanned brute-force; 10 balances tree depth against
// per-leaf scan cost for typical crowd densities
const defaultMaxLeafSize = 10

// agentTreeNode is one node of the dynamic agent kd-tree. Nodes partition a
// contiguous [begin, end) range of the build-time agent slice and carry the
// bounding box of that range for pruned radius queries
type agentTreeNode struct {
	begin int
	end   int
	left  int
	right int
	minX  float64
	maxX  float64
	minY  float64
	maxY  float64
}

// obstacleTreeNode is one node of the static obstacle kd-tree. Space is
// split along the directed line of the node's obstacle segment
type obstacleTreeNode struct {
	obstacleIdx int
	left        *obstacleTreeNode
	right       *obstacleTreeNode
}

// kdTree indexes agents (rebuilt every tick) and obstacle segments (built
// once by ProcessObstacles) for bounded-radius neighbor queries
type kdTree struct {
	sim          *Simulator
	maxLeafSize  int
	agents       []*agent
	agentTree    []agentTreeNode
	obstacleTree *obstacleTreeNode
}

// buildAgentTree rebuilds the agent tree from the current dense agent slice.
// Called once per tick before the solve phase; positions are stale after any
// agent moves
func (kd *kdTree) buildAgentTree(agents []*agent) {
	kd.agents = kd.agents[:0]
	kd.agents = append(kd.agents, agents...)

	if len(kd.agents) == 0 {
		kd.agentTree = kd.agentTree[:0]
		return
	}

	need := 2*len(kd.agents) - 1
	if cap(kd.agentTree) < need {
		kd.agentTree = make([]agentTreeNode, need)
	} else {
		kd.agentTree = kd.agentTree[:need]
	}

	kd.buildAgentTreeRecursive(0, len(kd.agents), 0)
}

func (kd *kdTree) buildAgentTreeRecursive(begin, end, node int) {
	n := &kd.agentTree[node]
	n.begin = begin
	n.end = end
	n.minX = kd.agents[begin].position.X
	n.maxX = n.minX
	n.minY = kd.agents[begin].position.Y
	n.maxY = n.minY

	for i := begin + 1; i < end; i++ {
		p := kd.agents[i].position
		if p.X > n.maxX {
			n.maxX = p.X
		} else if p.X < n.minX {
			n.minX = p.X
		}
		if p.Y > n.maxY {
			n.maxY = p.Y
		} else if p.Y < n.minY {
			n.minY = p.Y
		}
	}

	if end-begin <= kd.maxLeafSize {
		return
	}

	// Split at the spatial median of the wider axis
	isVertical := n.maxX-n.minX > n.maxY-n.minY
	var splitValue float64
	if isVertical {
		splitValue = 0.5 * (n.maxX + n.minX)
	} else {
		splitValue = 0.5 * (n.maxY + n.minY)
	}

	left := begin
	right := end
	for left < right {
		for left < right && coord(kd.agents[left], isVertical) < splitValue {
			left++
		}
		for right > left && coord(kd.agents[right-1], isVertical) >= splitValue {
			right--
		}
		if left < right {
			kd.agents[left], kd.agents[right-1] = kd.agents[right-1], kd.agents[left]
			left++
			right--
		}
	}

	// Degenerate split (all points on one side) still has to recurse on
	// strictly smaller ranges
	if left == begin {
		left++
	}

	n.left = node + 1
	n.right = node + 2*(left-begin)

	kd.buildAgentTreeRecursive(begin, left, n.left)
	kd.buildAgentTreeRecursive(left, end, kd.agentTree[node].right)
}

func coord(a *agent, vertical bool) float64 {
	if vertical {
		return a.position.X
	}
	return a.position.Y
}

// computeAgentNeighbors inserts all agents within rangeSq of a into a's
// neighbor list. rangeSq shrinks as the capped list fills, tightening the
// subtree pruning
func (kd *kdTree) computeAgentNeighbors(a *agent, rangeSq float64) {
	if len(kd.agentTree) == 0 {
		return
	}
	kd.queryAgentTreeRecursive(a, &rangeSq, 0)
}

func (kd *kdTree) queryAgentTreeRecursive(a *agent, rangeSq *float64, node int) {
	n := &kd.agentTree[node]

	if n.end-n.begin <= kd.maxLeafSize {
		for i := n.begin; i < n.end; i++ {
			a.insertAgentNeighbor(kd.agents[i], rangeSq)
		}
		return
	}

	distSqLeft := boxDistSq(&kd.agentTree[n.left], a.position)
	distSqRight := boxDistSq(&kd.agentTree[n.right], a.position)

	if distSqLeft < distSqRight {
		if distSqLeft < *rangeSq {
			kd.queryAgentTreeRecursive(a, rangeSq, n.left)
			if distSqRight < *rangeSq {
				kd.queryAgentTreeRecursive(a, rangeSq, n.right)
			}
		}
	} else {
		if distSqRight < *rangeSq {
			kd.queryAgentTreeRecursive(a, rangeSq, n.right)
			if distSqLeft < *rangeSq {
				kd.queryAgentTreeRecursive(a, rangeSq, n.left)
			}
		}
	}
}

// boxDistSq returns the squared distance from p to the node's bounding box,
// zero if p is inside
func boxDistSq(n *agentTreeNode, p vmath.Vec2) float64 {
	dx := max(n.minX-p.X, 0) + max(p.X-n.maxX, 0)
	dy := max(n.minY-p.Y, 0) + max(p.Y-n.maxY, 0)
	return dx*dx + dy*dy
}

// buildObstacleTree builds the static obstacle tree over the full arena.
// Segments that straddle a chosen split line are cut in two; the new
// segments are appended to the arena and spliced into the polygon chain
func (kd *kdTree) buildObstacleTree() {
	ids := make([]int, len(kd.sim.obstacles))
	for i := range ids {
		ids[i] = i
	}
	kd.obstacleTree = kd.buildObstacleTreeRecursive(ids)
}

func (kd *kdTree) buildObstacleTreeRecursive(ids []int) *obstacleTreeNode {
	if len(ids) == 0 {
		return nil
	}

	obstacles := kd.sim.obstacles

	optimalSplit := 0
	minLeft := len(ids)
	minRight := len(ids)

	// Pick the segment whose line yields the most balanced partition,
	// counting straddlers on both sides
	for i := range ids {
		leftSize := 0
		rightSize := 0

		i1 := &obstacles[ids[i]]
		i2 := &obstacles[i1.next]

		for j := range ids {
			if i == j {
				continue
			}

			j1 := &obstacles[ids[j]]
			j2 := &obstacles[j1.next]

			j1LeftOfI := vmath.LeftOf(i1.point, i2.point, j1.point)
			j2LeftOfI := vmath.LeftOf(i1.point, i2.point, j2.point)

			if j1LeftOfI >= -vmath.Eps && j2LeftOfI >= -vmath.Eps {
				leftSize++
			} else if j1LeftOfI <= vmath.Eps && j2LeftOfI <= vmath.Eps {
				rightSize++
			} else {
				leftSize++
				rightSize++
			}

			if !pairLess(max(leftSize, rightSize), min(leftSize, rightSize),
				max(minLeft, minRight), min(minLeft, minRight)) {
				break
			}
		}

		if pairLess(max(leftSize, rightSize), min(leftSize, rightSize),
			max(minLeft, minRight), min(minLeft, minRight)) {
			minLeft = leftSize
			minRight = rightSize
			optimalSplit = i
		}
	}

	leftIDs := make([]int, 0, minLeft)
	rightIDs := make([]int, 0, minRight)

	splitIdx := ids[optimalSplit]
	i1 := obstacles[splitIdx]
	i2 := obstacles[i1.next]

	for j := range ids {
		if j == optimalSplit {
			continue
		}

		j1Idx := ids[j]
		j1 := kd.sim.obstacles[j1Idx]
		j2Idx := j1.next
		j2 := kd.sim.obstacles[j2Idx]

		j1LeftOfI := vmath.LeftOf(i1.point, i2.point, j1.point)
		j2LeftOfI := vmath.LeftOf(i1.point, i2.point, j2.point)

		switch {
		case j1LeftOfI >= -vmath.Eps && j2LeftOfI >= -vmath.Eps:
			leftIDs = append(leftIDs, j1Idx)
		case j1LeftOfI <= vmath.Eps && j2LeftOfI <= vmath.Eps:
			rightIDs = append(rightIDs, j1Idx)
		default:
			// Straddler: cut at the intersection with the split line
			t := vmath.V2Det(vmath.V2Sub(i2.point, i1.point), vmath.V2Sub(j1.point, i1.point)) /
				vmath.V2Det(vmath.V2Sub(i2.point, i1.point), vmath.V2Sub(j1.point, j2.point))

			splitPoint := vmath.V2Add(j1.point, vmath.V2Scale(vmath.V2Sub(j2.point, j1.point), t))

			newIdx := len(kd.sim.obstacles)
			kd.sim.obstacles = append(kd.sim.obstacles, obstacle{
				point:    splitPoint,
				unitDir:  j1.unitDir,
				isConvex: true,
				prev:     j1Idx,
				next:     j2Idx,
				id:       newIdx,
			})
			kd.sim.obstacles[j1Idx].next = newIdx
			kd.sim.obstacles[j2Idx].prev = newIdx

			if j1LeftOfI > 0 {
				leftIDs = append(leftIDs, j1Idx)
				rightIDs = append(rightIDs, newIdx)
			} else {
				rightIDs = append(rightIDs, j1Idx)
				leftIDs = append(leftIDs, newIdx)
			}
		}
	}

	node := &obstacleTreeNode{obstacleIdx: splitIdx}
	node.left = kd.buildObstacleTreeRecursive(leftIDs)
	node.right = kd.buildObstacleTreeRecursive(rightIDs)
	return node
}

// computeObstacleNeighbors inserts all obstacle segments within rangeSq of a
// into a's obstacle-neighbor list (uncapped). Safe to call before
// ProcessObstacles; a nil tree yields no neighbors
func (kd *kdTree) computeObstacleNeighbors(a *agent, rangeSq float64) {
	kd.queryObstacleTreeRecursive(a, rangeSq, kd.obstacleTree)
}

func (kd *kdTree) queryObstacleTreeRecursive(a *agent, rangeSq float64, node *obstacleTreeNode) {
	if node == nil {
		return
	}

	o1 := &kd.sim.obstacles[node.obstacleIdx]
	o2 := &kd.sim.obstacles[o1.next]

	agentLeftOfLine := vmath.LeftOf(o1.point, o2.point, a.position)

	if agentLeftOfLine >= 0 {
		kd.queryObstacleTreeRecursive(a, rangeSq, node.left)
	} else {
		kd.queryObstacleTreeRecursive(a, rangeSq, node.right)
	}

	distSqLine := vmath.Sqr(agentLeftOfLine) / vmath.V2AbsSq(vmath.V2Sub(o2.point, o1.point))
	if distSqLine >= rangeSq {
		return
	}

	// The segment itself only constrains agents on its right side; agents
	// on the left are inside or behind the polygon boundary
	if agentLeftOfLine < 0 {
		a.insertObstacleNeighbor(node.obstacleIdx, rangeSq)
	}

	if agentLeftOfLine >= 0 {
		kd.queryObstacleTreeRecursive(a, rangeSq, node.right)
	} else {
		kd.queryObstacleTreeRecursive(a, rangeSq, node.left)
	}
}

// queryVisibility reports whether the segment q1→q2, inflated by radius, is
// unobstructed by registered obstacle segments. A nil tree is fully visible
func (kd *kdTree) queryVisibility(q1, q2 vmath.Vec2, radius float64) bool {
	return kd.queryVisibilityRecursive(q1, q2, radius, kd.obstacleTree)
}

func (kd *kdTree) queryVisibilityRecursive(q1, q2 vmath.Vec2, radius float64, node *obstacleTreeNode) bool {
	if node == nil {
		return true
	}

	o1 := &kd.sim.obstacles[node.obstacleIdx]
	o2 := &kd.sim.obstacles[o1.next]

	q1LeftOfI := vmath.LeftOf(o1.point, o2.point, q1)
	q2LeftOfI := vmath.LeftOf(o1.point, o2.point, q2)
	invLengthI := 1.0 / vmath.V2AbsSq(vmath.V2Sub(o2.point, o1.point))
	radiusSq := vmath.Sqr(radius)

	switch {
	case q1LeftOfI >= 0 && q2LeftOfI >= 0:
		return kd.queryVisibilityRecursive(q1, q2, radius, node.left) &&
			((vmath.Sqr(q1LeftOfI)*invLengthI >= radiusSq && vmath.Sqr(q2LeftOfI)*invLengthI >= radiusSq) ||
				kd.queryVisibilityRecursive(q1, q2, radius, node.right))
	case q1LeftOfI <= 0 && q2LeftOfI <= 0:
		return kd.queryVisibilityRecursive(q1, q2, radius, node.right) &&
			((vmath.Sqr(q1LeftOfI)*invLengthI >= radiusSq && vmath.Sqr(q2LeftOfI)*invLengthI >= radiusSq) ||
				kd.queryVisibilityRecursive(q1, q2, radius, node.left))
	case q1LeftOfI >= 0 && q2LeftOfI <= 0:
		// q1 and q2 straddle the split line; both subtrees must be clear
		return kd.queryVisibilityRecursive(q1, q2, radius, node.left) &&
			kd.queryVisibilityRecursive(q1, q2, radius, node.right)
	default:
		p1LeftOfQ := vmath.LeftOf(q1, q2, o1.point)
		p2LeftOfQ := vmath.LeftOf(q1, q2, o2.point)
		invLengthQ := 1.0 / vmath.V2AbsSq(vmath.V2Sub(q2, q1))

		return p1LeftOfQ*p2LeftOfQ >= 0 &&
			vmath.Sqr(p1LeftOfQ)*invLengthQ > radiusSq &&
			vmath.Sqr(p2LeftOfQ)*invLengthQ > radiusSq &&
			kd.queryVisibilityRecursive(q1, q2, radius, node.left) &&
			kd.queryVisibilityRecursive(q1, q2, radius, node.right)
	}
}

// pairLess compares (a1, a2) < (b1, b2) lexicographically; used to rank
// candidate obstacle-tree splits by balance
func pairLess(a1, a2, b1, b2 int) bool {
	return a1 < b1 || (a1 == b1 && a2 < b2)
}
