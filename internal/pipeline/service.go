// Package pipeline orchestrates the probe → extract → upscale → reassemble
// workflow for a single job.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"upscalevid/internal/extract"
	"upscalevid/internal/model"
	"upscalevid/internal/probe"
	"upscalevid/internal/progress"
	"upscalevid/internal/reassemble"
	"upscalevid/internal/scratch"
	"upscalevid/internal/upscale"
	"upscalevid/internal/util"
	"upscalevid/internal/util/format"
)

// Service runs jobs. Paths and options are fixed at construction; each
// RunJob call processes one input under one scratch directory.
type Service struct {
	ffmpegPath  string
	ffprobePath string
	enginePath  string
	opts        model.Options
	runner      util.Runner
	reporter    progress.Reporter
	jobID       string
}

// Option configures a Service.
type Option func(*Service)

// WithFFmpegPath sets the ffmpeg binary path.
func WithFFmpegPath(p string) Option {
	return func(s *Service) { s.ffmpegPath = p }
}

// WithFFprobePath sets the ffprobe binary path.
func WithFFprobePath(p string) Option {
	return func(s *Service) { s.ffprobePath = p }
}

// WithEnginePath sets the upscaling engine binary. The path is not
// verified here: a missing engine surfaces as a spawn failure on the
// first attempted frame, after probe and extraction have succeeded.
func WithEnginePath(p string) Option {
	return func(s *Service) { s.enginePath = p }
}

// WithOptions sets the job options used for planning and execution.
func WithOptions(o model.Options) Option {
	return func(s *Service) { s.opts = o }
}

// WithRunner injects a custom command runner (useful for testing).
func WithRunner(r util.Runner) Option {
	return func(s *Service) { s.runner = r }
}

// WithReporter attaches a progress reporter (used by TUI and plain output).
func WithReporter(rp progress.Reporter) Option {
	return func(s *Service) { s.reporter = rp }
}

// WithJobID sets the job ID associated with reporter events and the
// scratch directory name.
func WithJobID(id string) Option {
	return func(s *Service) { s.jobID = id }
}

// NewService constructs a Service, applying defaults for missing pieces.
func NewService(opts ...Option) *Service {
	s := &Service{}
	for _, o := range opts {
		o(s)
	}
	if s.runner == nil {
		s.runner = util.NewRunner()
	}
	if s.jobID == "" {
		s.jobID = uuid.NewString()
	}
	if s.enginePath == "" {
		s.enginePath = "upscayl"
	}
	if s.opts.Scale == 0 {
		s.opts.Scale = model.Scale4
	}
	if s.opts.Model == "" {
		s.opts.Model = "upscayl-standard-4x"
	}
	return s
}

// Result returns the outcome of RunJob.
type Result struct {
	Input      string
	Planned    bool
	Plan       *Plan
	Job        *model.Job
	OutputPath string
	Bytes      int64
	Frames     int
	Elapsed    time.Duration
	Scratch    string // non-empty when keep-frames retained the workdir
}

// Plan probes the input and computes the full execution plan without
// creating anything on disk. It is the dry-run surface and the first
// thing RunJob does.
func (s *Service) Plan(ctx context.Context, input string) (*Plan, error) {
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	if s.ffprobePath == "" {
		return nil, fmt.Errorf("input: ffprobe path is required")
	}

	s.emit(progress.StageProbing, -1, "Probing input")
	prober := &probe.Prober{Binary: s.ffprobePath, Runner: s.runner, Verbose: s.opts.Verbose}
	spec, err := prober.Probe(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}

	plan, err := s.buildPlan(input, spec)
	if err != nil {
		return nil, fmt.Errorf("input: %w", err)
	}
	return plan, nil
}

// RunJob executes the full pipeline for a single input file. It never
// prints; when a Reporter is present it emits progress and a final Result.
// Errors come back labeled with the stage that produced them.
func (s *Service) RunJob(ctx context.Context, input string) (Result, error) {
	var res Result
	res.Input = input
	start := time.Now()

	// ffmpeg is only needed once work starts, but a job that would fail
	// after probing is better rejected up front.
	if !s.opts.DryRun && s.ffmpegPath == "" {
		return res, fmt.Errorf("input: ffmpeg path is required")
	}

	plan, err := s.Plan(ctx, input)
	if err != nil {
		return res, err
	}
	spec := plan.Spec

	job := &model.Job{
		ID:        s.jobID,
		Input:     input,
		Output:    plan.Output,
		Container: plan.Container,
		Opts:      s.opts,
		Spec:      spec,
	}
	res.Job = job

	if s.opts.DryRun {
		res.Planned = true
		res.Plan = plan
		s.emitPlanned(plan)
		return res, nil
	}

	// Step 3: Scratch
	dir, err := scratch.Acquire(s.jobID, s.opts.KeepFrames)
	if err != nil {
		return res, fmt.Errorf("scratch: %w", err)
	}
	defer dir.Release()
	job.ScratchDir = dir.Root
	if s.opts.KeepFrames {
		res.Scratch = dir.Root
	}

	// Step 4: Extract
	s.emit(progress.StageExtracting, -1, "Extracting frames")
	ex := &extract.Extractor{
		Binary:   s.ffmpegPath,
		Runner:   s.runner,
		Reporter: s.reporter,
		JobID:    s.jobID,
		Verbose:  s.opts.Verbose,
	}
	frames, err := ex.Extract(ctx, spec, dir.Frames)
	if err != nil {
		return res, fmt.Errorf("extract: %w", err)
	}

	// Step 5: Upscale
	job.Tasks = upscale.MakeTasks(frames, dir.Upscaled)
	s.emit(progress.StageUpscaling, 0, fmt.Sprintf("Upscaling %d frames", len(job.Tasks)))
	pool := &upscale.Pool{
		Engine: &upscale.Engine{
			Binary:    s.enginePath,
			Model:     s.opts.Model,
			ModelPath: s.opts.ModelPath,
			Scale:     s.opts.Scale,
			GPUID:     s.opts.GPUID,
			TileSize:  s.opts.TileSize,
			TTA:       s.opts.TTA,
			Timeout:   s.opts.FrameTimeout,
			Runner:    s.runner,
			Verbose:   s.opts.Verbose,
		},
		Workers:  s.opts.Workers,
		Reporter: s.reporter,
		JobID:    s.jobID,
	}
	if err := pool.Run(ctx, job.Tasks); err != nil {
		return res, fmt.Errorf("upscale: %w", err)
	}

	// Step 6: Reassemble
	s.emit(progress.StageEncoding, -1, "Encoding video")
	rb := &reassemble.Reassembler{
		Binary:   s.ffmpegPath,
		Runner:   s.runner,
		Reporter: s.reporter,
		JobID:    s.jobID,
		Verbose:  s.opts.Verbose,
	}
	out, err := rb.Reassemble(ctx, reassemble.Inputs{
		FramesDir: dir.Upscaled,
		Expected:  len(job.Tasks),
		Spec:      spec,
		Output:    plan.Output,
		Container: plan.Container,
	})
	if err != nil {
		return res, fmt.Errorf("encode: %w", err)
	}

	res.OutputPath = out.Path
	res.Bytes = out.Bytes
	res.Frames = len(job.Tasks)
	res.Elapsed = time.Since(start)
	s.emitSaved(res)
	return res, nil
}

func (s *Service) emit(stage progress.Stage, percent float64, msg string) {
	if s.reporter == nil {
		return
	}
	s.reporter.Update(progress.Update{
		JobID:   s.jobID,
		Stage:   stage,
		Percent: percent,
		Message: msg,
	})
}

// emitPlanned sends a final "planned" update and reporter result for TUI.
func (s *Service) emitPlanned(plan *Plan) {
	if s.reporter == nil {
		return
	}
	s.reporter.Update(progress.Update{
		JobID:   s.jobID,
		Stage:   progress.StageCompleted,
		Percent: 100,
		Message: fmt.Sprintf("Planned: %s (dry-run)", filepath.Base(plan.Output)),
	})
	s.reporter.Result(progress.Result{
		JobID:      s.jobID,
		OutputPath: plan.Output,
	})
}

// emitSaved sends a final "saved" update and reporter result for TUI.
func (s *Service) emitSaved(res Result) {
	if s.reporter == nil {
		return
	}
	s.reporter.Update(progress.Update{
		JobID:   s.jobID,
		Stage:   progress.StageCompleted,
		Percent: 100,
		Message: fmt.Sprintf("Saved: %s (%s)", filepath.Base(res.OutputPath), format.HumanizeBytes(res.Bytes)),
	})
	s.reporter.Result(progress.Result{
		JobID:      s.jobID,
		OutputPath: res.OutputPath,
		Bytes:      res.Bytes,
		Frames:     res.Frames,
		Elapsed:    res.Elapsed,
		Scratch:    res.Scratch,
	})
}
