package main

import (
	"math"
	"math/rand/v2"
	"time"

	"perfhud/internal/render"
)

// telemetryGenerator produces a plausible, slowly drifting load curve with
// some jitter. A fixed seed gives a reproducible stream.
type telemetryGenerator struct {
	rng  *rand.Rand
	step int
	game *render.GameProcess
}

func newTelemetryGenerator(seed uint64, game *render.GameProcess) *telemetryGenerator {
	return &telemetryGenerator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), game: game}
}

// selectProcess switches the reported game to pid.
func (g *telemetryGenerator) selectProcess(pid int) {
	if g.game == nil {
		g.game = &render.GameProcess{Name: "game.exe"}
	}
	g.game.PID = pid
}

// Next returns the sample for now.
func (g *telemetryGenerator) Next(now time.Time) render.Sample {
	g.step++
	phase := float64(g.step) / 12
	sample := render.Sample{
		CPUPercent:  g.wave(55, 35, phase),
		GPUPercent:  g.wave(65, 30, phase+1.3),
		RAMPercent:  g.wave(48, 10, phase/4),
		DiskPercent: g.wave(8, 8, phase*2),
		Timestamp:   now,
	}
	if g.game != nil {
		game := *g.game
		game.CPU = math.Round(sample.CPUPercent*0.6*10) / 10
		game.MemoryMB = math.Round(2048 + 256*math.Sin(phase/3))
		sample.Game = &game
		sample.FPS = math.Max(0, math.Round(g.wave(72, 50, phase+0.7)))
	}
	return sample
}

func (g *telemetryGenerator) wave(center, amplitude, phase float64) float64 {
	v := center + amplitude*math.Sin(phase) + (g.rng.Float64()-0.5)*amplitude/5
	return math.Round(math.Min(100, math.Max(0, v))*10) / 10
}
