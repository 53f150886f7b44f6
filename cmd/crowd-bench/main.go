// crowd-bench measures simulator throughput headlessly: N agents on a ring
// with antipodal goals (or a scenario file), stepped for a fixed number of
// ticks, reporting per-tick latency and goal convergence.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/lixenwraith/crowd-nav/orca"
	"github.com/lixenwraith/crowd-nav/scenario"
	"github.com/lixenwraith/crowd-nav/vmath"
)

var (
	agents       = flag.Int("agents", 500, "Agent count for the built-in ring scenario")
	ticks        = flag.Int("ticks", 1000, "Simulation ticks to run")
	workers      = flag.Int("workers", 1, "Solve-phase worker goroutines")
	scenarioPath = flag.String("scenario", "", "Scenario YAML file (empty = built-in ring)")
)

func main() {
	flag.Parse()

	var sim *orca.Simulator
	if *scenarioPath != "" {
		sc, err := scenario.Load(*scenarioPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		sim = sc.Build()
	} else {
		sim = ringSim(*agents)
	}
	sim.SetNumWorkers(*workers)

	fmt.Printf("agents=%d ticks=%d workers=%d\n", sim.NumAgents(), *ticks, *workers)

	var steerTotal, runTotal time.Duration
	start := time.Now()

	for i := 0; i < *ticks; i++ {
		t0 := time.Now()
		scenario.Steer(sim)
		t1 := time.Now()
		sim.Run()
		t2 := time.Now()

		steerTotal += t1.Sub(t0)
		runTotal += t2.Sub(t1)

		if sim.ReachedGoal() {
			fmt.Printf("all goals reached after %d ticks\n", i+1)
			break
		}
	}

	elapsed := time.Since(start)
	n := sim.NumAgents()

	fmt.Printf("wall time:      %v\n", elapsed)
	fmt.Printf("ticks/sec:      %.1f\n", float64(*ticks)/elapsed.Seconds())
	fmt.Printf("avg tick:       %v (steer %v, solve %v)\n",
		elapsed/time.Duration(*ticks), steerTotal/time.Duration(*ticks), runTotal/time.Duration(*ticks))
	fmt.Printf("converged:      %d/%d agents\n", converged(sim), n)
}

// ringSim builds N agents evenly spaced on a ring, each with the antipodal
// point as its goal, so every trajectory crosses the center region
func ringSim(n int) *orca.Simulator {
	sim := orca.NewSimulator(0.1)
	sim.SetAgentDefaults(orca.AgentDefaults{
		NeighborDist:    15,
		MaxNeighbors:    10,
		TimeHorizon:     5,
		TimeHorizonObst: 5,
		Radius:          0.5,
		MaxSpeed:        1.5,
	})

	// Ring radius grows with the crowd so spawn density stays sane
	r := math.Max(12, float64(n)*0.55/math.Pi)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		p := vmath.Vec2{X: r * math.Cos(angle), Y: r * math.Sin(angle)}
		id := sim.AddAgent(p)
		sim.SetAgentGoal(id, vmath.V2Neg(p))
	}
	sim.ProcessObstacles()
	return sim
}

func converged(sim *orca.Simulator) int {
	count := 0
	for _, id := range sim.AgentIDs() {
		pos, _ := sim.GetAgentPosition(id)
		goal, _ := sim.GetAgentGoal(id)
		if vmath.V2DistSq(pos, goal) <= vmath.Eps {
			count++
		}
	}
	return count
}
