// orca-sandbox is an interactive terminal visualizer for the crowd engine.
// It steps a scenario on a fixed ticker and draws agents, goals and obstacle
// polygons into the terminal. Space pauses, n single-steps, r restarts,
// q/ESC quits.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/lixenwraith/crowd-nav/orca"
	"github.com/lixenwraith/crowd-nav/scenario"
	"github.com/lixenwraith/crowd-nav/vmath"
)

var (
	scenarioPath = flag.String("scenario", "", "Scenario YAML file (empty = built-in circle)")
	tickMs       = flag.Int("tick", 33, "Milliseconds per simulation tick")
	agentCount   = flag.Int("agents", 24, "Agent count for the built-in circle scenario")
)

// Sandbox owns the screen, the scenario, and the running simulator
type Sandbox struct {
	screen tcell.Screen
	sc     *scenario.Scenario
	sim    *orca.Simulator

	paused bool
	ticks  int

	// World-to-screen transform, recomputed on resize
	scale         float64
	centerX       float64
	centerY       float64
	width, height int
}

func main() {
	flag.Parse()

	sc, err := loadScenario()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		panic(err)
	}
	if err := screen.Init(); err != nil {
		panic(err)
	}
	defer screen.Fini()

	sb := &Sandbox{screen: screen, sc: sc}
	sb.reset()
	sb.layout()

	ticker := time.NewTicker(time.Duration(*tickMs) * time.Millisecond)
	defer ticker.Stop()

	// Ticker events are funneled into the tcell queue so the loop has a
	// single event source
	go func() {
		for range ticker.C {
			screen.PostEvent(tcell.NewEventInterrupt(nil))
		}
	}()

	for {
		switch ev := screen.PollEvent().(type) {
		case *tcell.EventKey:
			switch {
			case ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q':
				return
			case ev.Rune() == ' ':
				sb.paused = !sb.paused
			case ev.Rune() == 'n':
				sb.step()
			case ev.Rune() == 'r':
				sb.reset()
			}
			sb.render()
		case *tcell.EventResize:
			sb.layout()
			sb.render()
		case *tcell.EventInterrupt:
			if !sb.paused {
				sb.step()
			}
			sb.render()
		case nil:
			return
		}
	}
}

func loadScenario() (*scenario.Scenario, error) {
	if *scenarioPath != "" {
		return scenario.Load(*scenarioPath)
	}
	return circleScenario(*agentCount), nil
}

// circleScenario places agents on a circle with antipodal goals, the classic
// ORCA stress demo: everyone wants to pass through the center at once
func circleScenario(n int) *scenario.Scenario {
	sc := &scenario.Scenario{
		Name:     "circle",
		TimeStep: 0.1,
		Defaults: scenario.Defaults{
			NeighborDist:    15,
			MaxNeighbors:    10,
			TimeHorizon:     5,
			TimeHorizonObst: 5,
			Radius:          0.5,
			MaxSpeed:        1.5,
		},
	}

	const r = 12.0
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		p := scenario.Point{X: r * math.Cos(angle), Y: r * math.Sin(angle)}
		sc.Agents = append(sc.Agents, scenario.AgentSpec{
			Position: p,
			Goal:     scenario.Point{X: -p.X, Y: -p.Y},
		})
	}
	return sc
}

func (sb *Sandbox) reset() {
	sb.sim = sb.sc.Build()
	sb.ticks = 0
}

func (sb *Sandbox) step() {
	scenario.Steer(sb.sim)
	sb.sim.Run()
	sb.ticks++
}

// layout fits the scenario's bounding box into the terminal. Terminal cells
// are roughly twice as tall as wide, so X is stretched by 2 in toScreen
func (sb *Sandbox) layout() {
	sb.width, sb.height = sb.screen.Size()

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	grow := func(p scenario.Point) {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
		minY = math.Min(minY, p.Y)
		maxY = math.Max(maxY, p.Y)
	}
	for _, a := range sb.sc.Agents {
		grow(a.Position)
		grow(a.Goal)
	}
	for _, poly := range sb.sc.Obstacles {
		for _, p := range poly {
			grow(p)
		}
	}

	spanX := math.Max(maxX-minX, 1)
	spanY := math.Max(maxY-minY, 1)

	const margin = 4.0
	sx := (float64(sb.width) - 2*margin) / spanX / 2
	sy := (float64(sb.height) - 2*margin) / spanY
	sb.scale = math.Min(sx, sy)
	sb.centerX = (minX + maxX) / 2
	sb.centerY = (minY + maxY) / 2
}

func (sb *Sandbox) toScreen(v vmath.Vec2) (int, int) {
	x := (v.X-sb.centerX)*sb.scale*2 + float64(sb.width)/2
	y := (v.Y-sb.centerY)*sb.scale + float64(sb.height)/2
	return int(math.Round(x)), int(math.Round(y))
}

func (sb *Sandbox) render() {
	sb.screen.Clear()

	obstacleStyle := tcell.StyleDefault.Foreground(tcell.ColorGray)
	goalStyle := tcell.StyleDefault.Foreground(tcell.ColorDarkGreen)
	agentStyle := tcell.StyleDefault.Foreground(tcell.ColorAqua)
	doneStyle := tcell.StyleDefault.Foreground(tcell.ColorGreen)
	textStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite)

	for _, poly := range sb.sc.Obstacles {
		for i := range poly {
			a := vmath.Vec2{X: poly[i].X, Y: poly[i].Y}
			b := vmath.Vec2{X: poly[(i+1)%len(poly)].X, Y: poly[(i+1)%len(poly)].Y}
			if len(poly) == 2 && i == 1 {
				break // Bare segment, no closing edge
			}
			sb.drawLine(a, b, obstacleStyle)
		}
	}

	for _, id := range sb.sim.AgentIDs() {
		goal, _ := sb.sim.GetAgentGoal(id)
		gx, gy := sb.toScreen(goal)
		sb.put(gx, gy, '+', goalStyle)
	}

	for _, id := range sb.sim.AgentIDs() {
		pos, _ := sb.sim.GetAgentPosition(id)
		vel, _ := sb.sim.GetAgentVelocity(id)
		goal, _ := sb.sim.GetAgentGoal(id)

		x, y := sb.toScreen(pos)
		style := agentStyle
		if vmath.V2DistSq(pos, goal) <= vmath.Eps {
			style = doneStyle
		}
		sb.put(x, y, velocityGlyph(vel), style)
	}

	status := fmt.Sprintf(" %s | tick %d | t=%.1fs | agents %d",
		sb.sc.Name, sb.ticks, sb.sim.GlobalTime(), sb.sim.NumAgents())
	if sb.paused {
		status += " | PAUSED"
	}
	if sb.sim.ReachedGoal() {
		status += " | all goals reached"
	}
	sb.drawText(0, 0, status, textStyle)
	sb.drawText(0, sb.height-1, " space pause | n step | r reset | q quit", textStyle)

	sb.screen.Show()
}

// velocityGlyph picks an arrow for the agent's heading, a dot when idle
func velocityGlyph(v vmath.Vec2) rune {
	if vmath.V2AbsSq(v) < vmath.Eps {
		return '•'
	}
	angle := math.Atan2(v.Y, v.X)
	glyphs := []rune{'→', '↘', '↓', '↙', '←', '↖', '↑', '↗'}
	idx := int(math.Round(angle/(math.Pi/4))) % 8
	if idx < 0 {
		idx += 8
	}
	return glyphs[idx]
}

func (sb *Sandbox) put(x, y int, r rune, style tcell.Style) {
	if x < 0 || x >= sb.width || y < 0 || y >= sb.height {
		return
	}
	sb.screen.SetContent(x, y, r, nil, style)
}

func (sb *Sandbox) drawText(x, y int, text string, style tcell.Style) {
	for i, r := range []rune(text) {
		sb.put(x+i, y, r, style)
	}
}

// drawLine rasterizes a world-space segment into cells
func (sb *Sandbox) drawLine(a, b vmath.Vec2, style tcell.Style) {
	x0, y0 := sb.toScreen(a)
	x1, y1 := sb.toScreen(b)

	steps := maxAbs(x1-x0, y1-y0)
	if steps == 0 {
		sb.put(x0, y0, '#', style)
		return
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := x0 + int(math.Round(t*float64(x1-x0)))
		y := y0 + int(math.Round(t*float64(y1-y0)))
		sb.put(x, y, '#', style)
	}
}

func maxAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		return a
	}
	return b
}
