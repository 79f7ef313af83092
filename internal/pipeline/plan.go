package pipeline

import (
	"upscalevid/internal/model"
	"upscalevid/internal/util/media"
)

// Plan describes what a job would do without doing it. It is the dry-run
// surface and the first thing RunJob computes after probing.
type Plan struct {
	Input         string
	Output        string
	Container     model.Container
	Spec          model.VideoSpec
	Scale         model.ScaleFactor
	TargetWidth   int
	TargetHeight  int
	Model         string
	ModelPath     string
	Workers       int
	FrameEstimate int
	CopyAudio     bool
}

func (s *Service) buildPlan(input string, spec model.VideoSpec) (*Plan, error) {
	output, container, err := media.OutputPath(input, s.opts.OutputPath)
	if err != nil {
		return nil, err
	}
	tw, th := spec.TargetSize(s.opts.Scale)
	workers := s.opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Plan{
		Input:         input,
		Output:        output,
		Container:     container,
		Spec:          spec,
		Scale:         s.opts.Scale,
		TargetWidth:   tw,
		TargetHeight:  th,
		Model:         s.opts.Model,
		ModelPath:     s.opts.ModelPath,
		Workers:       workers,
		FrameEstimate: spec.FrameCount,
		CopyAudio:     spec.HasAudio,
	}, nil
}
