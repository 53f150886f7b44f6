// Package scenario loads declarative crowd scenarios (agent defaults, spawn
// positions, goals, obstacle polygons) from YAML and turns them into
// configured orca simulators. Used by the sandbox and benchmark binaries and
// by integration tests; the engine itself never reads files.
package scenario

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lixenwraith/crowd-nav/orca"
	"github.com/lixenwraith/crowd-nav/vmath"
)

// Point is a YAML-friendly 2D coordinate
type Point struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

func (p Point) vec() vmath.Vec2 {
	return vmath.Vec2{X: p.X, Y: p.Y}
}

// Defaults mirrors orca.AgentDefaults with YAML tags
type Defaults struct {
	NeighborDist    float64 `yaml:"neighbor_dist"`
	MaxNeighbors    int     `yaml:"max_neighbors"`
	TimeHorizon     float64 `yaml:"time_horizon"`
	TimeHorizonObst float64 `yaml:"time_horizon_obst"`
	Radius          float64 `yaml:"radius"`
	MaxSpeed        float64 `yaml:"max_speed"`
}

// AgentSpec is one agent's spawn position and goal
type AgentSpec struct {
	Position Point `yaml:"position"`
	Goal     Point `yaml:"goal"`
}

// Scenario is a complete declarative simulation setup
type Scenario struct {
	Name      string      `yaml:"name"`
	TimeStep  float64     `yaml:"time_step"`
	Defaults  Defaults    `yaml:"defaults"`
	Agents    []AgentSpec `yaml:"agents"`
	Obstacles [][]Point   `yaml:"obstacles"`
}

// Parse decodes and validates a scenario from a reader
func Parse(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Load reads and parses a scenario file
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	sc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate checks the invariants the engine panics on, plus scenario-level
// consistency, and reports them as errors instead
func (sc *Scenario) Validate() error {
	if sc.TimeStep <= 0 {
		return fmt.Errorf("scenario %q: time_step must be positive, got %v", sc.Name, sc.TimeStep)
	}
	if sc.Defaults.Radius <= 0 {
		return fmt.Errorf("scenario %q: defaults.radius must be positive, got %v", sc.Name, sc.Defaults.Radius)
	}
	if sc.Defaults.TimeHorizon <= 0 || sc.Defaults.TimeHorizonObst <= 0 {
		return fmt.Errorf("scenario %q: time horizons must be positive", sc.Name)
	}
	if sc.Defaults.MaxSpeed < 0 || sc.Defaults.NeighborDist < 0 || sc.Defaults.MaxNeighbors < 0 {
		return fmt.Errorf("scenario %q: defaults must be non-negative", sc.Name)
	}
	if len(sc.Agents) == 0 {
		return fmt.Errorf("scenario %q: no agents", sc.Name)
	}
	for i, poly := range sc.Obstacles {
		if len(poly) < 2 {
			return fmt.Errorf("scenario %q: obstacle %d has %d vertices, need at least 2", sc.Name, i, len(poly))
		}
	}
	return nil
}

// Build constructs a simulator with all agents and obstacles registered and
// the obstacle index processed, ready for Run. Agent IDs are assigned in
// Agents order starting at 0
func (sc *Scenario) Build() *orca.Simulator {
	sim := orca.NewSimulator(sc.TimeStep)
	sim.SetAgentDefaults(orca.AgentDefaults{
		NeighborDist:    sc.Defaults.NeighborDist,
		MaxNeighbors:    sc.Defaults.MaxNeighbors,
		TimeHorizon:     sc.Defaults.TimeHorizon,
		TimeHorizonObst: sc.Defaults.TimeHorizonObst,
		Radius:          sc.Defaults.Radius,
		MaxSpeed:        sc.Defaults.MaxSpeed,
	})

	for _, a := range sc.Agents {
		id := sim.AddAgent(a.Position.vec())
		sim.SetAgentGoal(id, a.Goal.vec())
	}

	for _, poly := range sc.Obstacles {
		vertices := make([]vmath.Vec2, len(poly))
		for i, p := range poly {
			vertices[i] = p.vec()
		}
		sim.AddObstacle(vertices)
	}
	sim.ProcessObstacles()

	return sim
}

// Steer points every agent's preferred velocity at its goal at full speed,
// easing off inside one step's reach so agents settle instead of orbiting.
// Call once per tick before sim.Run
func Steer(sim *orca.Simulator) {
	for _, id := range sim.AgentIDs() {
		pos, _ := sim.GetAgentPosition(id)
		goal, _ := sim.GetAgentGoal(id)

		toGoal := vmath.V2Sub(goal, pos)
		if vmath.V2AbsSq(toGoal) <= vmath.Eps {
			sim.SetAgentPrefVelocity(id, vmath.Vec2{})
			continue
		}

		maxSpeed, _ := sim.GetAgentMaxSpeed(id)

		// Full speed toward the goal, but never ask to overshoot within one
		// step: that is what makes agents settle instead of orbiting
		pref := vmath.V2ClampMagnitude(vmath.V2Scale(toGoal, 1/sim.TimeStep()), maxSpeed)
		sim.SetAgentPrefVelocity(id, pref)
	}
}
