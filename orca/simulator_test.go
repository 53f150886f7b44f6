package orca

import (
	"math"
	"testing"

	"github.com/lixenwraith/crowd-nav/vmath"
)

func testDefaults() AgentDefaults {
	return AgentDefaults{
		NeighborDist:    15,
		MaxNeighbors:    10,
		TimeHorizon:     5,
		TimeHorizonObst: 5,
		Radius:          0.5,
		MaxSpeed:        1,
	}
}

func newTestSim() *Simulator {
	s := NewSimulator(0.1)
	s.SetAgentDefaults(testDefaults())
	return s
}

// steerToGoals points preferred velocities at goals, decelerating inside one
// step's reach so agents can settle exactly on the goal
func steerToGoals(s *Simulator) {
	for _, id := range s.AgentIDs() {
		pos, _ := s.GetAgentPosition(id)
		goal, _ := s.GetAgentGoal(id)
		toGoal := vmath.V2Sub(goal, pos)
		if vmath.V2AbsSq(toGoal) <= vmath.Eps {
			s.SetAgentPrefVelocity(id, vmath.Vec2{})
			continue
		}
		maxSpeed, _ := s.GetAgentMaxSpeed(id)
		s.SetAgentPrefVelocity(id, vmath.V2ClampMagnitude(vmath.V2Scale(toGoal, 1/s.TimeStep()), maxSpeed))
	}
}

func TestAddAgentWithoutDefaultsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("AddAgent before SetAgentDefaults did not panic")
		}
	}()
	s := NewSimulator(0.1)
	s.AddAgent(vmath.Vec2{})
}

func TestAgentIDsStableAndMonotonic(t *testing.T) {
	s := newTestSim()

	id0 := s.AddAgent(vmath.Vec2{X: 0})
	id1 := s.AddAgent(vmath.Vec2{X: 1})
	id2 := s.AddAgent(vmath.Vec2{X: 2})

	if id0 != 0 || id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d,%d,%d, want 0,1,2", id0, id1, id2)
	}

	if !s.RemoveAgent(id1) {
		t.Fatal("RemoveAgent(live id) = false")
	}
	if s.NumAgents() != 2 {
		t.Fatalf("NumAgents = %d, want 2", s.NumAgents())
	}

	// Removed ID is never recycled for a different agent
	id3 := s.AddAgent(vmath.Vec2{X: 3})
	if id3 == id1 {
		t.Fatalf("id %d was recycled", id1)
	}

	p, ok := s.GetAgentPosition(id3)
	if !ok || p.X != 3 {
		t.Fatalf("GetAgentPosition(%d) = %v,%v", id3, p, ok)
	}
}

func TestUnknownIDNoOps(t *testing.T) {
	s := newTestSim()
	s.AddAgent(vmath.Vec2{})

	// Setters must not panic, remove must report false, size unchanged
	s.SetAgentPrefVelocity(99, vmath.Vec2{X: 1, Y: 1})
	s.SetAgentPosition(99, vmath.Vec2{X: 1, Y: 1})
	s.SetAgentGoal(99, vmath.Vec2{X: 1, Y: 1})

	if s.RemoveAgent(99) {
		t.Error("RemoveAgent(unknown) = true")
	}
	if s.NumAgents() != 1 {
		t.Errorf("NumAgents = %d, want 1", s.NumAgents())
	}

	if _, ok := s.GetAgentPosition(99); ok {
		t.Error("GetAgentPosition(unknown) reported ok")
	}
	if _, ok := s.GetAgentVelocity(99); ok {
		t.Error("GetAgentVelocity(unknown) reported ok")
	}
	if _, ok := s.GetAgentOrcaLines(99); ok {
		t.Error("GetAgentOrcaLines(unknown) reported ok")
	}
}

func TestDegenerateObstacleRejected(t *testing.T) {
	s := newTestSim()

	before := len(s.obstacles)
	if got := s.AddObstacle([]vmath.Vec2{{X: 1, Y: 1}}); got != -1 {
		t.Errorf("AddObstacle(1 vertex) = %d, want -1", got)
	}
	if got := s.AddObstacle(nil); got != -1 {
		t.Errorf("AddObstacle(nil) = %d, want -1", got)
	}
	if len(s.obstacles) != before {
		t.Errorf("obstacle arena grew to %d on rejected input", len(s.obstacles))
	}
}

func TestProcessObstaclesTwicePanics(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	defer func() {
		if recover() == nil {
			t.Fatal("second ProcessObstacles did not panic")
		}
	}()
	s.ProcessObstacles()
}

func TestNoNeighborPassthrough(t *testing.T) {
	s := newTestSim()
	id := s.AddAgent(vmath.Vec2{})
	s.ProcessObstacles()

	// In-bounds preferred velocity comes through exactly
	pref := vmath.Vec2{X: 0.3, Y: -0.4}
	s.SetAgentPrefVelocity(id, pref)
	s.Run()

	if v, _ := s.GetAgentVelocity(id); v != pref {
		t.Errorf("velocity = %v, want %v exactly", v, pref)
	}

	// Out-of-bounds preferred velocity is clamped to max speed, direction kept
	s.SetAgentPrefVelocity(id, vmath.Vec2{X: 30, Y: 40})
	s.Run()

	v, _ := s.GetAgentVelocity(id)
	if math.Abs(vmath.V2Abs(v)-1) > 1e-9 {
		t.Errorf("clamped speed = %v, want 1", vmath.V2Abs(v))
	}
	if math.Abs(v.X/v.Y-0.75) > 1e-9 {
		t.Errorf("clamp changed direction: %v", v)
	}
}

func TestSpeedBound(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	// Dense cluster forced through the origin, constraints active every tick
	ids := make([]int, 0, 20)
	for i := 0; i < 20; i++ {
		angle := 2 * math.Pi * float64(i) / 20
		p := vmath.Vec2{X: 4 * math.Cos(angle), Y: 4 * math.Sin(angle)}
		id := s.AddAgent(p)
		s.SetAgentGoal(id, vmath.V2Neg(p))
		ids = append(ids, id)
	}

	for tick := 0; tick < 200; tick++ {
		steerToGoals(s)
		s.Run()
		for _, id := range ids {
			v, _ := s.GetAgentVelocity(id)
			if vmath.V2Abs(v) > 1+vmath.Eps {
				t.Fatalf("tick %d: agent %d speed %v exceeds max 1", tick, id, vmath.V2Abs(v))
			}
		}
	}
}

func TestHeadOnCollisionAvoidance(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	a := s.AddAgent(vmath.Vec2{X: -5})
	b := s.AddAgent(vmath.Vec2{X: 5})
	s.SetAgentGoal(a, vmath.Vec2{X: 5})
	s.SetAgentGoal(b, vmath.Vec2{X: -5})

	const minDist = 0.5 + 0.5 // Sum of radii

	reached := false
	for tick := 0; tick < 1000; tick++ {
		steerToGoals(s)
		s.Run()

		pa, _ := s.GetAgentPosition(a)
		pb, _ := s.GetAgentPosition(b)
		if d := vmath.V2Dist(pa, pb); d < minDist-vmath.Eps {
			t.Fatalf("tick %d: agents %.4f apart, min %.4f", tick, d, minDist)
		}

		if s.ReachedGoal() {
			reached = true
			break
		}
	}

	if !reached {
		t.Fatal("agents never reached swapped goals")
	}
}

// A perfectly collinear closing pair must not stall at contact: already the
// first solve gives each agent a lateral component, equal and opposite so
// the pair stays a mirror image while passing
func TestHeadOnSymmetryBreak(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	a := s.AddAgent(vmath.Vec2{X: -5})
	b := s.AddAgent(vmath.Vec2{X: 5})
	s.SetAgentGoal(a, vmath.Vec2{X: 5})
	s.SetAgentGoal(b, vmath.Vec2{X: -5})

	steerToGoals(s)
	s.Run()

	va, _ := s.GetAgentVelocity(a)
	vb, _ := s.GetAgentVelocity(b)

	if math.Abs(va.Y) < 1e-6 {
		t.Fatalf("agent a gained no lateral motion: %v", va)
	}
	if va.Y*vb.Y >= 0 {
		t.Fatalf("lateral components do not oppose: %v vs %v", va, vb)
	}
	if math.Abs(va.Y+vb.Y) > 1e-12 || math.Abs(va.X+vb.X) > 1e-12 {
		t.Errorf("velocities not mirrored: %v vs %v", va, vb)
	}
}

func TestReachedGoalTransition(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	id := s.AddAgent(vmath.Vec2{X: -2})
	s.SetAgentGoal(id, vmath.Vec2{X: 2})

	if s.ReachedGoal() {
		t.Fatal("ReachedGoal = true with agent 4 units from goal")
	}

	reached := false
	for tick := 0; tick < 200; tick++ {
		steerToGoals(s)
		s.Run()
		if s.ReachedGoal() {
			reached = true
			break
		}
	}
	if !reached {
		t.Fatal("single unobstructed agent never converged")
	}

	pos, _ := s.GetAgentPosition(id)
	if vmath.V2DistSq(pos, vmath.Vec2{X: 2}) > vmath.Eps {
		t.Errorf("ReachedGoal true but agent at %v", pos)
	}
}

// buildCrossingSim creates a deterministic multi-agent scene with an
// obstacle, used by the determinism tests
func buildCrossingSim() *Simulator {
	s := NewSimulator(0.25)
	s.SetAgentDefaults(AgentDefaults{
		NeighborDist:    10,
		MaxNeighbors:    8,
		TimeHorizon:     5,
		TimeHorizonObst: 5,
		Radius:          0.4,
		MaxSpeed:        2,
	})

	s.AddObstacle([]vmath.Vec2{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}})
	s.ProcessObstacles()

	for i := 0; i < 16; i++ {
		angle := 2 * math.Pi * float64(i) / 16
		p := vmath.Vec2{X: 8 * math.Cos(angle), Y: 8 * math.Sin(angle)}
		id := s.AddAgent(p)
		s.SetAgentGoal(id, vmath.V2Neg(p))
	}
	return s
}

func runTicks(s *Simulator, n int) {
	for i := 0; i < n; i++ {
		steerToGoals(s)
		s.Run()
	}
}

func TestDeterminism(t *testing.T) {
	s1 := buildCrossingSim()
	s2 := buildCrossingSim()

	runTicks(s1, 120)
	runTicks(s2, 120)

	for _, id := range s1.AgentIDs() {
		p1, _ := s1.GetAgentPosition(id)
		p2, _ := s2.GetAgentPosition(id)
		if p1 != p2 {
			t.Errorf("agent %d diverged: %v vs %v", id, p1, p2)
		}
	}
}

// Parallel solve must be bit-identical to serial: every agent solves against
// the same tick-start snapshot regardless of worker count
func TestParallelMatchesSerial(t *testing.T) {
	serial := buildCrossingSim()
	parallel := buildCrossingSim()
	parallel.SetNumWorkers(4)

	runTicks(serial, 120)
	runTicks(parallel, 120)

	for _, id := range serial.AgentIDs() {
		p1, _ := serial.GetAgentPosition(id)
		p2, _ := parallel.GetAgentPosition(id)
		if p1 != p2 {
			t.Errorf("agent %d diverged under parallel solve: %v vs %v", id, p1, p2)
		}
		v1, _ := serial.GetAgentVelocity(id)
		v2, _ := parallel.GetAgentVelocity(id)
		if v1 != v2 {
			t.Errorf("agent %d velocity diverged: %v vs %v", id, v1, v2)
		}
	}
}

// Within one tick every agent must see the same snapshot: with the two-phase
// commit an agent pair placed symmetrically produces mirror-image
// trajectories, which sequential in-place updates would break
func TestTickSimultaneity(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	a := s.AddAgent(vmath.Vec2{X: -5})
	b := s.AddAgent(vmath.Vec2{X: 5})
	s.SetAgentGoal(a, vmath.Vec2{X: 5})
	s.SetAgentGoal(b, vmath.Vec2{X: -5})

	for tick := 0; tick < 50; tick++ {
		steerToGoals(s)
		s.Run()

		pa, _ := s.GetAgentPosition(a)
		pb, _ := s.GetAgentPosition(b)

		// Mirror symmetry through the origin, exact up to sign
		if math.Abs(pa.X+pb.X) > 1e-9 || math.Abs(pa.Y+pb.Y) > 1e-9 {
			t.Fatalf("tick %d: symmetry broken: %v vs %v", tick, pa, pb)
		}
	}
}

func TestGlobalTimeAdvances(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()
	s.AddAgent(vmath.Vec2{})

	if s.GlobalTime() != 0 {
		t.Fatalf("initial GlobalTime = %v", s.GlobalTime())
	}

	s.Run()
	s.Run()
	if math.Abs(s.GlobalTime()-0.2) > 1e-12 {
		t.Errorf("GlobalTime after 2 ticks = %v, want 0.2", s.GlobalTime())
	}

	s.SetTimeStep(0.5)
	if s.TimeStep() != 0.5 {
		t.Errorf("TimeStep = %v, want 0.5", s.TimeStep())
	}
	s.Run()
	if math.Abs(s.GlobalTime()-0.7) > 1e-12 {
		t.Errorf("GlobalTime after dt change = %v, want 0.7", s.GlobalTime())
	}
}

func TestRemoveAgentMidSimulation(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	a := s.AddAgent(vmath.Vec2{X: -3})
	b := s.AddAgent(vmath.Vec2{X: 3})
	s.SetAgentGoal(a, vmath.Vec2{X: 3})
	s.SetAgentGoal(b, vmath.Vec2{X: -3})

	runTicks(s, 5)

	if !s.RemoveAgent(b) {
		t.Fatal("RemoveAgent failed")
	}

	// Index refreshes lazily; the next ticks must run clean and the
	// survivor converges as if alone
	for tick := 0; tick < 200 && !s.ReachedGoal(); tick++ {
		steerToGoals(s)
		s.Run()
	}
	if !s.ReachedGoal() {
		t.Error("survivor did not converge after removal")
	}
}

func TestOrcaLinesRebuiltEachTick(t *testing.T) {
	s := newTestSim()
	s.ProcessObstacles()

	a := s.AddAgent(vmath.Vec2{X: -1})
	b := s.AddAgent(vmath.Vec2{X: 1})
	s.SetAgentPrefVelocity(a, vmath.Vec2{X: 1})
	s.SetAgentPrefVelocity(b, vmath.Vec2{X: -1})

	s.Run()
	lines, ok := s.GetAgentOrcaLines(a)
	if !ok || len(lines) != 1 {
		t.Fatalf("expected 1 ORCA line from single neighbor, got %d", len(lines))
	}

	// Neighbor gone: constraint list must be empty again, not accumulated
	s.RemoveAgent(b)
	s.Run()
	lines, _ = s.GetAgentOrcaLines(a)
	if len(lines) != 0 {
		t.Errorf("expected 0 ORCA lines after neighbor removal, got %d", len(lines))
	}
}
