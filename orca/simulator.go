package orca

import (
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/lixenwraith/crowd-nav/vmath"
)

// AgentDefaults is the template applied to every agent created by AddAgent.
// Radius must be positive and both horizons must be positive; MaxSpeed and
// NeighborDist must be non-negative
type AgentDefaults struct {
	NeighborDist    float64
	MaxNeighbors    int
	TimeHorizon     float64
	TimeHorizonObst float64
	Radius          float64
	MaxSpeed        float64
	Velocity        vmath.Vec2
}

func (d AgentDefaults) validate() {
	if d.Radius <= 0 {
		panic("orca: agent radius must be positive")
	}
	if d.TimeHorizon <= 0 || d.TimeHorizonObst <= 0 {
		panic("orca: agent time horizons must be positive")
	}
	if d.MaxSpeed < 0 || d.NeighborDist < 0 || d.MaxNeighbors < 0 {
		panic("orca: agent max speed, neighbor distance and max neighbors must be non-negative")
	}
}

// Simulator owns the agent registry, the static obstacle arena, the spatial
// index and the global clock. All methods are single-goroutine; one Run call
// performs one deterministic tick. Agents are addressed by the stable int ID
// returned from AddAgent; IDs are never reused
type Simulator struct {
	agents map[int]*agent
	dense  []*agent // Hot-loop iteration order, rebuilt when dirty
	dirty  bool

	obstacles          []obstacle
	obstaclesProcessed bool

	kdTree kdTree

	defaults    *AgentDefaults
	nextAgentID int

	timeStep   float64
	globalTime float64

	numWorkers int
}

// NewSimulator creates an empty simulator with the given time step.
// Agent parameters must be configured with SetAgentDefaults before the
// first AddAgent call
func NewSimulator(timeStep float64) *Simulator {
	if timeStep <= 0 {
		panic("orca: time step must be positive")
	}
	s := &Simulator{
		agents:   make(map[int]*agent),
		timeStep: timeStep,
	}
	s.kdTree.sim = s
	s.kdTree.maxLeafSize = defaultMaxLeafSize
	return s
}

// SetAgentDefaults configures the template copied into agents created by
// subsequent AddAgent calls. Panics on out-of-range values
func (s *Simulator) SetAgentDefaults(d AgentDefaults) {
	d.validate()
	s.defaults = &d
}

// SetMaxLeafSize overrides the agent-tree leaf bucket size. Affects query
// performance only, never results
func (s *Simulator) SetMaxLeafSize(n int) {
	if n < 1 {
		panic("orca: max leaf size must be at least 1")
	}
	s.kdTree.maxLeafSize = n
}

// SetNumWorkers sets the number of goroutines used for the per-tick solve
// phase. Values below 2 keep the tick fully single-threaded. Results are
// identical regardless of worker count: every agent solves against the same
// tick-start snapshot and commits afterward
func (s *Simulator) SetNumWorkers(n int) {
	s.numWorkers = n
}

// AddAgent creates an agent at the given position from the configured
// defaults and returns its ID. The agent's goal starts at its spawn
// position. Calling AddAgent before SetAgentDefaults is a programmer error
// and panics
func (s *Simulator) AddAgent(position vmath.Vec2) int {
	if s.defaults == nil {
		panic("orca: AddAgent called before SetAgentDefaults")
	}

	id := s.nextAgentID
	s.nextAgentID++

	a := &agent{
		sim:             s,
		id:              id,
		position:        position,
		velocity:        s.defaults.Velocity,
		goal:            position,
		radius:          s.defaults.Radius,
		maxSpeed:        s.defaults.MaxSpeed,
		neighborDist:    s.defaults.NeighborDist,
		maxNeighbors:    s.defaults.MaxNeighbors,
		timeHorizon:     s.defaults.TimeHorizon,
		timeHorizonObst: s.defaults.TimeHorizonObst,
	}

	s.agents[id] = a
	s.dirty = true
	return id
}

// RemoveAgent drops the agent from the registry. Returns false for unknown
// IDs. The spatial index is refreshed lazily on the next Run
func (s *Simulator) RemoveAgent(id int) bool {
	if _, ok := s.agents[id]; !ok {
		return false
	}
	delete(s.agents, id)
	s.dirty = true
	return true
}

// NumAgents returns the number of live agents
func (s *Simulator) NumAgents() int {
	return len(s.agents)
}

// SetAgentPosition teleports the agent; silent no-op on unknown ID
func (s *Simulator) SetAgentPosition(id int, p vmath.Vec2) {
	if a, ok := s.agents[id]; ok {
		a.position = p
	}
}

// SetAgentPrefVelocity sets the velocity the agent steers toward this tick;
// silent no-op on unknown ID
func (s *Simulator) SetAgentPrefVelocity(id int, v vmath.Vec2) {
	if a, ok := s.agents[id]; ok {
		a.prefVelocity = v
	}
}

// SetAgentGoal sets the position ReachedGoal tests against; silent no-op on
// unknown ID
func (s *Simulator) SetAgentGoal(id int, g vmath.Vec2) {
	if a, ok := s.agents[id]; ok {
		a.goal = g
	}
}

// SetAgentMaxSpeed overrides the agent's speed bound; silent no-op on
// unknown ID. Panics on negative values
func (s *Simulator) SetAgentMaxSpeed(id int, maxSpeed float64) {
	if maxSpeed < 0 {
		panic("orca: agent max speed must be non-negative")
	}
	if a, ok := s.agents[id]; ok {
		a.maxSpeed = maxSpeed
	}
}

func (s *Simulator) GetAgentPosition(id int) (vmath.Vec2, bool) {
	if a, ok := s.agents[id]; ok {
		return a.position, true
	}
	return vmath.Vec2{}, false
}

func (s *Simulator) GetAgentVelocity(id int) (vmath.Vec2, bool) {
	if a, ok := s.agents[id]; ok {
		return a.velocity, true
	}
	return vmath.Vec2{}, false
}

func (s *Simulator) GetAgentPrefVelocity(id int) (vmath.Vec2, bool) {
	if a, ok := s.agents[id]; ok {
		return a.prefVelocity, true
	}
	return vmath.Vec2{}, false
}

func (s *Simulator) GetAgentGoal(id int) (vmath.Vec2, bool) {
	if a, ok := s.agents[id]; ok {
		return a.goal, true
	}
	return vmath.Vec2{}, false
}

func (s *Simulator) GetAgentMaxSpeed(id int) (float64, bool) {
	if a, ok := s.agents[id]; ok {
		return a.maxSpeed, true
	}
	return 0, false
}

func (s *Simulator) GetAgentRadius(id int) (float64, bool) {
	if a, ok := s.agents[id]; ok {
		return a.radius, true
	}
	return 0, false
}

// GetAgentOrcaLines returns the half-plane constraints from the agent's most
// recent solve. The slice is reused on the next Run; callers holding it
// across ticks must copy
func (s *Simulator) GetAgentOrcaLines(id int) ([]Line, bool) {
	if a, ok := s.agents[id]; ok {
		return a.orcaLines, true
	}
	return nil, false
}

// AgentIDs returns the live agent IDs in ascending order
func (s *Simulator) AgentIDs() []int {
	ids := make([]int, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// SetTimeStep changes the integration step for subsequent ticks
func (s *Simulator) SetTimeStep(dt float64) {
	if dt <= 0 {
		panic("orca: time step must be positive")
	}
	s.timeStep = dt
}

func (s *Simulator) TimeStep() float64 {
	return s.timeStep
}

// GlobalTime returns the accumulated simulation time
func (s *Simulator) GlobalTime() float64 {
	return s.globalTime
}

// QueryVisibility reports whether p1 can see p2 with the given clearance
// radius past all processed obstacles. Everything is visible before
// ProcessObstacles has built the obstacle tree
func (s *Simulator) QueryVisibility(p1, p2 vmath.Vec2, radius float64) bool {
	return s.kdTree.queryVisibility(p1, p2, radius)
}

// refreshDense rebuilds the hot-loop agent slice from the registry map in
// ascending ID order, keeping tick iteration deterministic
func (s *Simulator) refreshDense() {
	if !s.dirty {
		return
	}
	s.dense = s.dense[:0]
	for _, id := range s.AgentIDs() {
		s.dense = append(s.dense, s.agents[id])
	}
	s.dirty = false
}

// Run advances the simulation by one tick: rebuild the agent kd-tree, let
// every agent search neighbors and solve its velocity program against the
// tick-start snapshot, then commit all velocities and positions at once.
// The two-phase commit keeps results independent of agent order and of the
// worker count
func (s *Simulator) Run() {
	s.refreshDense()
	s.kdTree.buildAgentTree(s.dense)

	if s.numWorkers > 1 && len(s.dense) > 1 {
		s.solveParallel()
	} else {
		for _, a := range s.dense {
			a.computeNeighbors()
			a.computeNewVelocity()
		}
	}

	for _, a := range s.dense {
		a.update()
	}

	s.globalTime += s.timeStep
}

// solveParallel fans the read-only solve phase out over numWorkers
// goroutines in contiguous chunks. No agent state other than the solving
// agent's own scratch lists is written, so no synchronization is needed
// beyond the join
func (s *Simulator) solveParallel() {
	var g errgroup.Group
	n := len(s.dense)
	workers := s.numWorkers
	if workers > n {
		workers = n
	}

	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		batch := s.dense[start:end]
		g.Go(func() error {
			for _, a := range batch {
				a.computeNeighbors()
				a.computeNewVelocity()
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ReachedGoal reports whether every agent is within the convergence epsilon
// of its goal (squared distance below vmath.Eps). True for an empty
// simulation
func (s *Simulator) ReachedGoal() bool {
	for _, a := range s.agents {
		if vmath.V2DistSq(a.position, a.goal) > vmath.Eps {
			return false
		}
	}
	return true
}
