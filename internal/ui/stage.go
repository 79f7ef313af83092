package ui

import (
	"time"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"

	"upscalevid/internal/progress"
)

type stagePhase int

const (
	stageWaiting stagePhase = iota
	stageActive
	stageDone
	stageFailed
)

// stageState is one pipeline step's row in the view.
type stageState struct {
	id      progress.Stage
	label   string
	phase   stagePhase
	percent float64 // -1 means unknown
	status  string
	eta     *time.Duration

	bar bubblesprogress.Model
}

// pipelineStages returns the rows in execution order.
func pipelineStages() []*stageState {
	mk := func(id progress.Stage, label string) *stageState {
		return &stageState{
			id:      id,
			label:   label,
			percent: -1,
			bar: bubblesprogress.New(
				bubblesprogress.WithDefaultGradient(),
				bubblesprogress.WithWidth(40),
			),
		}
	}
	return []*stageState{
		mk(progress.StageProbing, "Probe"),
		mk(progress.StageExtracting, "Extract"),
		mk(progress.StageUpscaling, "Upscale"),
		mk(progress.StageEncoding, "Encode"),
	}
}

func (s *stageState) markDone() {
	s.phase = stageDone
	s.percent = 100
	s.eta = nil
}
