package orca

import (
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/lixenwraith/crowd-nav/vmath"
)

// bruteForceAgentNeighbors returns the IDs of the up-to-max nearest agents
// within dist of a, ascending by distance
func bruteForceAgentNeighbors(agents []*agent, a *agent, dist float64, max int) []int {
	type cand struct {
		distSq float64
		id     int
	}
	var cands []cand
	for _, other := range agents {
		if other == a {
			continue
		}
		distSq := vmath.V2DistSq(a.position, other.position)
		if distSq < vmath.Sqr(dist) {
			cands = append(cands, cand{distSq, other.id})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].distSq < cands[j].distSq })
	if len(cands) > max {
		cands = cands[:max]
	}
	ids := make([]int, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids
}

func TestAgentNeighborsMatchBruteForce(t *testing.T) {
	const (
		neighborDist = 4.0
		maxNeighbors = 5
	)

	for _, leafSize := range []int{1, 2, 10} {
		rng := rand.New(rand.NewSource(42))

		s := NewSimulator(0.1)
		s.SetMaxLeafSize(leafSize)
		s.SetAgentDefaults(AgentDefaults{
			NeighborDist:    neighborDist,
			MaxNeighbors:    maxNeighbors,
			TimeHorizon:     5,
			TimeHorizonObst: 5,
			Radius:          0.3,
			MaxSpeed:        1,
		})
		for i := 0; i < 80; i++ {
			s.AddAgent(vmath.Vec2{X: rng.Float64()*30 - 15, Y: rng.Float64()*30 - 15})
		}
		s.ProcessObstacles()

		s.refreshDense()
		s.kdTree.buildAgentTree(s.dense)

		for _, a := range s.dense {
			a.computeNeighbors()

			got := make([]int, len(a.agentNeighbors))
			for i, n := range a.agentNeighbors {
				got[i] = n.agent.id
			}
			want := bruteForceAgentNeighbors(s.dense, a, neighborDist, maxNeighbors)

			if !reflect.DeepEqual(got, want) {
				t.Errorf("leaf %d, agent %d: tree neighbors %v, brute force %v", leafSize, a.id, got, want)
			}
		}
	}
}

func TestAgentNeighborsCappedAtMax(t *testing.T) {
	s := NewSimulator(0.1)
	s.SetAgentDefaults(AgentDefaults{
		NeighborDist:    100,
		MaxNeighbors:    3,
		TimeHorizon:     5,
		TimeHorizonObst: 5,
		Radius:          0.3,
		MaxSpeed:        1,
	})
	// A tight cluster: everyone is in range of everyone
	for i := 0; i < 12; i++ {
		s.AddAgent(vmath.Vec2{X: float64(i) * 0.9, Y: float64(i%3) * 0.7})
	}
	s.ProcessObstacles()

	s.refreshDense()
	s.kdTree.buildAgentTree(s.dense)

	for _, a := range s.dense {
		a.computeNeighbors()
		if len(a.agentNeighbors) != 3 {
			t.Errorf("agent %d: got %d neighbors, want exactly 3", a.id, len(a.agentNeighbors))
		}
		for i := 1; i < len(a.agentNeighbors); i++ {
			if a.agentNeighbors[i].distSq < a.agentNeighbors[i-1].distSq {
				t.Errorf("agent %d: neighbor list not distance-ordered", a.id)
			}
		}
	}
}

// segDist pairs a segment's arena index with its squared distance. Segments
// sharing a corner can tie exactly on distance, so ordered comparisons break
// ties on the index
type segDist struct {
	distSq float64
	idx    int
}

func sortSegDists(s []segDist) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].distSq != s[j].distSq {
			return s[i].distSq < s[j].distSq
		}
		return s[i].idx < s[j].idx
	})
}

// bruteForceObstacleNeighbors returns the segments within dist of pos whose
// right side faces pos
func bruteForceObstacleNeighbors(s *Simulator, pos vmath.Vec2, dist float64) []segDist {
	cands := make([]segDist, 0)
	for idx := range s.obstacles {
		o1 := &s.obstacles[idx]
		o2 := &s.obstacles[o1.next]
		if vmath.LeftOf(o1.point, o2.point, pos) >= 0 {
			continue
		}
		distSq := vmath.DistSqPointSegment(o1.point, o2.point, pos)
		if distSq < vmath.Sqr(dist) {
			cands = append(cands, segDist{distSq, idx})
		}
	}
	sortSegDists(cands)
	return cands
}

func TestObstacleNeighborsMatchBruteForce(t *testing.T) {
	s := NewSimulator(0.1)
	s.SetAgentDefaults(AgentDefaults{
		NeighborDist:    10,
		MaxNeighbors:    10,
		TimeHorizon:     5,
		TimeHorizonObst: 3,
		Radius:          0.5,
		MaxSpeed:        1,
	})

	// Two boxes and a free-standing wall; the tree build may split straddling
	// segments, so the brute force runs over the post-build arena
	s.AddObstacle([]vmath.Vec2{{X: -4, Y: -4}, {X: -2, Y: -4}, {X: -2, Y: -2}, {X: -4, Y: -2}})
	s.AddObstacle([]vmath.Vec2{{X: 2, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 4}, {X: 2, Y: 4}})
	s.AddObstacle([]vmath.Vec2{{X: -1, Y: 5}, {X: 3, Y: 7}})

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		s.AddAgent(vmath.Vec2{X: rng.Float64()*16 - 8, Y: rng.Float64()*16 - 8})
	}
	s.ProcessObstacles()

	s.refreshDense()
	s.kdTree.buildAgentTree(s.dense)

	// Same range computeNeighbors derives: horizon reach plus radius
	queryDist := 3*1.0 + 0.5

	for _, a := range s.dense {
		a.computeNeighbors()

		got := make([]segDist, len(a.obstacleNeighbors))
		for i, n := range a.obstacleNeighbors {
			got[i] = segDist{n.distSq, n.obstacleIdx}
		}
		sortSegDists(got)
		want := bruteForceObstacleNeighbors(s, a.position, queryDist)

		if !reflect.DeepEqual(got, want) {
			t.Errorf("agent %d at %v: tree segments %v, brute force %v", a.id, a.position, got, want)
		}
	}
}

func TestQueryVisibility(t *testing.T) {
	s := NewSimulator(0.1)
	s.AddObstacle([]vmath.Vec2{{X: -5, Y: 0}, {X: 5, Y: 0}})

	// Before ProcessObstacles there is no tree and everything is visible
	if !s.QueryVisibility(vmath.Vec2{X: 0, Y: 3}, vmath.Vec2{X: 0, Y: -3}, 0) {
		t.Error("visibility before ProcessObstacles should be true")
	}

	s.ProcessObstacles()

	if s.QueryVisibility(vmath.Vec2{X: 0, Y: 3}, vmath.Vec2{X: 0, Y: -3}, 0) {
		t.Error("points on opposite sides of the wall should not see each other")
	}
	if !s.QueryVisibility(vmath.Vec2{X: 1, Y: 2}, vmath.Vec2{X: 3, Y: 2}, 0) {
		t.Error("points on the same side of the wall should see each other")
	}
	if !s.QueryVisibility(vmath.Vec2{X: -7, Y: 1}, vmath.Vec2{X: -7, Y: -1}, 0) {
		t.Error("points beyond the wall's end should see each other")
	}
}

func TestComputeNeighborsBeforeTreeBuild(t *testing.T) {
	s := NewSimulator(0.1)
	s.SetAgentDefaults(AgentDefaults{
		NeighborDist:    15,
		MaxNeighbors:    10,
		TimeHorizon:     5,
		TimeHorizonObst: 5,
		Radius:          0.5,
		MaxSpeed:        1,
	})
	id := s.AddAgent(vmath.Vec2{})
	a := s.agents[id]

	// No agent tree and no obstacle tree yet; the query must be a no-op
	a.computeNeighbors()
	if len(a.agentNeighbors) != 0 || len(a.obstacleNeighbors) != 0 {
		t.Errorf("expected no neighbors before tree build, got %d agents, %d obstacles",
			len(a.agentNeighbors), len(a.obstacleNeighbors))
	}
}
