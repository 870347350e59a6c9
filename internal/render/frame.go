// Package render turns settings and the latest telemetry sample into the
// overlay's visual state.
package render

import (
	"fmt"
	"math"
	"time"

	"perfhud/internal/settings"
)

// MarginPx is the fixed distance between the overlay and its screen corner.
const MarginPx = 12

// placeholder is shown instead of a number that is not available.
const placeholder = "--"

// GameProcess is the foreground game as reported by the host.
type GameProcess struct {
	Name     string  `json:"name"`
	PID      int     `json:"pid"`
	CPU      float64 `json:"cpu"`
	MemoryMB float64 `json:"memoryMb"`
}

// Sample is one telemetry reading. Samples are immutable once received.
type Sample struct {
	CPUPercent  float64      `json:"cpuPercent"`
	GPUPercent  float64      `json:"gpuPercent"`
	RAMPercent  float64      `json:"ramPercent"`
	DiskPercent float64      `json:"diskPercent"`
	FPS         float64      `json:"fps"`
	Game        *GameProcess `json:"gameProcess,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

func (s Sample) percent(m settings.Metric) float64 {
	switch m {
	case settings.MetricCPU:
		return s.CPUPercent
	case settings.MetricGPU:
		return s.GPUPercent
	case settings.MetricRAM:
		return s.RAMPercent
	case settings.MetricDisk:
		return s.DiskPercent
	}
	return 0
}

// Anchor pins the overlay to a corner with a fixed margin. Exactly one of
// Top/Bottom and one of Left/Right is meaningful, named by Vertical and
// Horizontal.
type Anchor struct {
	Vertical   string `json:"vertical"`
	Horizontal string `json:"horizontal"`
	MarginPx   int    `json:"marginPx"`
}

// Bar is one percentage metric.
type Bar struct {
	Metric    settings.Metric `json:"metric"`
	Label     string          `json:"label"`
	Value     float64         `json:"value"`
	Text      string          `json:"text"`
	Tier      Tier            `json:"tier"`
	Color     string          `json:"color"`
	Available bool            `json:"available"`
}

// FPSReadout is the frame-rate display.
type FPSReadout struct {
	Value     float64 `json:"value"`
	Text      string  `json:"text"`
	Tier      FPSTier `json:"tier"`
	Color     string  `json:"color"`
	Available bool    `json:"available"`
}

// GamePanel is the extra detail shown in full mode.
type GamePanel struct {
	Name       string `json:"name"`
	PID        int    `json:"pid"`
	CPUText    string `json:"cpuText"`
	MemoryText string `json:"memoryText"`
}

// Frame is everything the overlay draws except toasts.
type Frame struct {
	Visible      bool              `json:"visible"`
	Mode         settings.Mode     `json:"mode"`
	Preview      bool              `json:"preview"`
	Position     settings.Position `json:"position"`
	Anchor       Anchor            `json:"anchor"`
	HasTelemetry bool              `json:"hasTelemetry"`
	Bars         []Bar             `json:"bars,omitempty"`
	FPS          *FPSReadout       `json:"fps,omitempty"`
	Game         *GamePanel        `json:"game,omitempty"`
}

var metricLabels = map[settings.Metric]string{
	settings.MetricCPU:  "CPU",
	settings.MetricGPU:  "GPU",
	settings.MetricRAM:  "RAM",
	settings.MetricDisk: "Disk",
}

// Render computes the frame for s and sample. sample is nil when no
// telemetry has arrived (or the host is gone). preview, when non-nil,
// overrides the persisted mode for this session only. Render is pure.
func Render(s settings.Settings, sample *Sample, preview *settings.Mode) Frame {
	mode := s.Mode
	if !mode.Valid() {
		mode = settings.ModeMinimal
	}
	isPreview := false
	if preview != nil && preview.Valid() && *preview != mode {
		mode = *preview
		isPreview = true
	}

	position := s.Position
	if !position.Valid() {
		position = settings.TopRight
	}

	frame := Frame{
		Visible:      s.OverlayEnabled,
		Mode:         mode,
		Preview:      isPreview,
		Position:     position,
		Anchor:       anchorFor(position),
		HasTelemetry: sample != nil,
	}
	if !s.OverlayEnabled {
		return frame
	}

	for _, m := range settings.Metrics {
		if m == settings.MetricFPS || !s.MetricVisible(m) {
			continue
		}
		frame.Bars = append(frame.Bars, renderBar(m, sample))
	}
	if s.MetricVisible(settings.MetricFPS) {
		readout := renderFPS(sample)
		frame.FPS = &readout
	}
	if mode == settings.ModeFull && sample != nil && sample.Game != nil {
		frame.Game = &GamePanel{
			Name:       sample.Game.Name,
			PID:        sample.Game.PID,
			CPUText:    formatPercent(sample.Game.CPU),
			MemoryText: formatMemory(sample.Game.MemoryMB),
		}
	}
	return frame
}

func renderBar(m settings.Metric, sample *Sample) Bar {
	bar := Bar{Metric: m, Label: metricLabels[m]}
	if sample == nil {
		bar.Text = placeholder
		bar.Tier = TierNormal
		bar.Color = TierNormal.Color()
		return bar
	}
	v := clampPercent(sample.percent(m))
	tier := PercentTier(v)
	bar.Value = v
	bar.Text = formatPercent(v)
	bar.Tier = tier
	bar.Color = tier.Color()
	bar.Available = true
	return bar
}

// renderFPS shows a neutral placeholder, not 0, when no game is running.
func renderFPS(sample *Sample) FPSReadout {
	if sample == nil || sample.Game == nil {
		return FPSReadout{Text: placeholder, Tier: FPSUnavailable, Color: FPSUnavailable.Color()}
	}
	fps := clampFPS(sample.FPS)
	tier := FPSTierFor(fps)
	return FPSReadout{
		Value:     fps,
		Text:      fmt.Sprintf("%d", int(math.Round(math.Min(fps, 9999)))),
		Tier:      tier,
		Color:     tier.Color(),
		Available: true,
	}
}

func anchorFor(p settings.Position) Anchor {
	a := Anchor{Vertical: "top", Horizontal: "right", MarginPx: MarginPx}
	switch p {
	case settings.TopLeft:
		a.Horizontal = "left"
	case settings.BottomLeft:
		a.Vertical, a.Horizontal = "bottom", "left"
	case settings.BottomRight:
		a.Vertical = "bottom"
	}
	return a
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%d%%", int(math.Round(clampPercent(v))))
}

// maxMemoryMB keeps the int conversion in range; larger readings are bogus.
const maxMemoryMB = 1 << 40

func formatMemory(mb float64) string {
	if math.IsNaN(mb) || mb < 0 {
		mb = 0
	}
	if mb > maxMemoryMB {
		return placeholder + " MB"
	}
	return fmt.Sprintf("%d MB", int64(math.Round(mb)))
}
