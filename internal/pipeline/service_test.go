package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"upscalevid/internal/model"
	"upscalevid/internal/progress"
	"upscalevid/internal/upscale"
	"upscalevid/internal/util"
)

type recordingReporter struct {
	mu      sync.Mutex
	updates []progress.Update
	results []progress.Result
	logs    []progress.Log
}

func (r *recordingReporter) Update(u progress.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}
func (r *recordingReporter) Log(l progress.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, l)
}
func (r *recordingReporter) Result(res progress.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordingReporter) lastUpdate() progress.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updates) == 0 {
		return progress.Update{}
	}
	return r.updates[len(r.updates)-1]
}

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "width": 320, "height": 180,
     "r_frame_rate": "24/1", "avg_frame_rate": "24/1", "nb_frames": "6"},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"duration": "0.25"}
}`

// fakeRunner simulates ffprobe, ffmpeg and the upscaling engine by
// dispatching on the binary path and writing the files each tool would
// produce.
type fakeRunner struct {
	t           *testing.T
	ffprobePath string
	ffmpegPath  string
	enginePath  string

	frameCount int   // frames "extracted" by the ffmpeg fake
	encodeSize int64 // size of the encoded output file

	engineSpawnErr bool            // engine binary "not installed"
	engineFailOn   map[string]bool // input basenames that fail
	onEngineCall   func(n int)     // invoked per engine call, 1-based

	mu          sync.Mutex
	engineCalls int
	probeCalls  int
}

func (f *fakeRunner) Run(ctx context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	switch spec.Path {
	case f.ffprobePath:
		f.mu.Lock()
		f.probeCalls++
		f.mu.Unlock()
		return util.CmdResult{Stdout: []byte(probeJSON), Code: 0}, nil

	case f.ffmpegPath:
		last := spec.Args[len(spec.Args)-1]
		if strings.Contains(last, "frame_%08d.png") {
			// Extraction: materialize the numbered frame files.
			dir := filepath.Dir(last)
			for i := 1; i <= f.frameCount; i++ {
				name := filepath.Join(dir, fmt.Sprintf("frame_%08d.png", i))
				if err := os.WriteFile(name, []byte("png"), 0o644); err != nil {
					f.t.Fatalf("fake extract write: %v", err)
				}
			}
			if spec.StdoutLine != nil {
				spec.StdoutLine("out_time_ms=125000")
				spec.StdoutLine("progress=continue")
				spec.StdoutLine("out_time_ms=250000")
				spec.StdoutLine("progress=end")
			}
			return util.CmdResult{Code: 0}, nil
		}
		// Encode: write the output file.
		size := f.encodeSize
		if size <= 0 {
			size = 1024
		}
		if err := os.WriteFile(last, make([]byte, size), 0o644); err != nil {
			f.t.Fatalf("fake encode write: %v", err)
		}
		if spec.StdoutLine != nil {
			spec.StdoutLine("out_time_ms=250000")
			spec.StdoutLine("progress=end")
		}
		return util.CmdResult{Code: 0}, nil

	case f.enginePath:
		f.mu.Lock()
		f.engineCalls++
		n := f.engineCalls
		f.mu.Unlock()
		if f.onEngineCall != nil {
			f.onEngineCall(n)
		}
		if f.engineSpawnErr {
			return util.CmdResult{Code: -1},
				fmt.Errorf("%w: exec: %q: executable file not found in $PATH", util.ErrSpawn, spec.Path)
		}
		if err := ctx.Err(); err != nil {
			return util.CmdResult{Code: -1}, fmt.Errorf("command interrupted: %w", err)
		}
		in := argValue(spec.Args, "-i")
		out := argValue(spec.Args, "-o")
		if f.engineFailOn[filepath.Base(in)] {
			return util.CmdResult{Code: 1, Stderr: []byte("decode image failed\n")},
				fmt.Errorf("command failed (exit 1): exit status 1")
		}
		if err := os.WriteFile(out, []byte("upscaled"), 0o644); err != nil {
			f.t.Fatalf("fake engine write: %v", err)
		}
		return util.CmdResult{Code: 0}, nil
	}
	return util.CmdResult{}, errors.New("unexpected tool path: " + spec.Path)
}

func argValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// newTestEnv points TMPDIR at a private directory so scratch trees are
// hermetic, writes a dummy input file and returns its path.
func newTestEnv(t *testing.T) (input, scratchBase string) {
	t.Helper()
	scratchBase = t.TempDir()
	t.Setenv("TMPDIR", scratchBase)
	inDir := t.TempDir()
	input = filepath.Join(inDir, "clip.mp4")
	if err := os.WriteFile(input, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return input, scratchBase
}

func newFake(t *testing.T) *fakeRunner {
	return &fakeRunner{
		t:           t,
		ffprobePath: "/bin/ffprobe",
		ffmpegPath:  "/bin/ffmpeg",
		enginePath:  "/bin/upscayl",
		frameCount:  6,
		encodeSize:  4096,
	}
}

func newTestService(fr *fakeRunner, rep progress.Reporter, opts model.Options) *Service {
	return NewService(
		WithFFmpegPath(fr.ffmpegPath),
		WithFFprobePath(fr.ffprobePath),
		WithEnginePath(fr.enginePath),
		WithOptions(opts),
		WithRunner(fr),
		WithReporter(rep),
		WithJobID("job-1"),
	)
}

// scratchJobs lists job directories under the hermetic scratch base.
func scratchJobs(t *testing.T, base string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(base, "upscalevid"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read scratch base: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// ---------- Tests ----------

func TestNewService_Defaults(t *testing.T) {
	s := NewService()
	if s.runner == nil {
		t.Error("runner should default to the exec-backed runner")
	}
	if s.jobID == "" {
		t.Error("jobID should be generated")
	}
	if s.enginePath != "upscayl" {
		t.Errorf("enginePath = %q, want upscayl", s.enginePath)
	}
	if s.opts.Scale != model.Scale4 {
		t.Errorf("Scale = %d, want 4", s.opts.Scale)
	}
	if s.opts.Model != "upscayl-standard-4x" {
		t.Errorf("Model = %q", s.opts.Model)
	}

	s2 := NewService(
		WithFFmpegPath("/usr/bin/ffmpeg"),
		WithFFprobePath("/usr/bin/ffprobe"),
		WithEnginePath("/opt/upscayl/bin/upscayl"),
		WithOptions(model.Options{Scale: model.Scale2, Workers: 3}),
		WithJobID("job-x"),
	)
	if s2.ffmpegPath != "/usr/bin/ffmpeg" || s2.ffprobePath != "/usr/bin/ffprobe" {
		t.Errorf("tool paths not applied: %q %q", s2.ffmpegPath, s2.ffprobePath)
	}
	if s2.enginePath != "/opt/upscayl/bin/upscayl" {
		t.Errorf("enginePath = %q", s2.enginePath)
	}
	if s2.opts.Scale != model.Scale2 || s2.opts.Workers != 3 {
		t.Errorf("opts not applied: %+v", s2.opts)
	}
	if s2.jobID != "job-x" {
		t.Errorf("jobID = %q", s2.jobID)
	}
}

func TestRunJob_MissingPaths(t *testing.T) {
	input, _ := newTestEnv(t)

	s1 := NewService(WithOptions(model.Options{DryRun: true}))
	if _, err := s1.RunJob(context.Background(), input); err == nil ||
		!strings.Contains(err.Error(), "ffprobe path is required") {
		t.Errorf("expected ffprobe path error, got %v", err)
	}

	s2 := NewService(WithFFprobePath("/bin/ffprobe"))
	if _, err := s2.RunJob(context.Background(), input); err == nil ||
		!strings.Contains(err.Error(), "ffmpeg path is required") {
		t.Errorf("expected ffmpeg path error, got %v", err)
	}
}

func TestRunJob_MissingInput(t *testing.T) {
	_, _ = newTestEnv(t)
	fr := newFake(t)
	s := newTestService(fr, nil, model.Options{})

	_, err := s.RunJob(context.Background(), "/nonexistent/clip.mp4")
	if err == nil || !strings.HasPrefix(err.Error(), "input:") {
		t.Fatalf("expected input error, got %v", err)
	}
	if fr.probeCalls != 0 {
		t.Errorf("probe should not run for missing input")
	}
}

func TestRunJob_DryRun(t *testing.T) {
	input, base := newTestEnv(t)
	fr := newFake(t)
	rep := &recordingReporter{}
	s := newTestService(fr, rep, model.Options{DryRun: true, Scale: model.Scale3, Workers: 0})

	res, err := s.RunJob(context.Background(), input)
	if err != nil {
		t.Fatalf("RunJob dry-run: %v", err)
	}
	if !res.Planned || res.Plan == nil {
		t.Fatalf("expected Planned result with Plan")
	}
	p := res.Plan
	if p.TargetWidth != 960 || p.TargetHeight != 540 {
		t.Errorf("target = %dx%d, want 960x540", p.TargetWidth, p.TargetHeight)
	}
	if p.Workers != 1 {
		t.Errorf("Workers = %d, want clamp to 1", p.Workers)
	}
	if !p.CopyAudio {
		t.Error("CopyAudio should be true for input with audio stream")
	}
	if p.FrameEstimate != 6 {
		t.Errorf("FrameEstimate = %d, want 6", p.FrameEstimate)
	}
	wantOut := strings.TrimSuffix(input, ".mp4") + "_upscaled.mp4"
	if p.Output != wantOut {
		t.Errorf("Output = %q, want %q", p.Output, wantOut)
	}
	if p.Container != model.ContainerMP4 {
		t.Errorf("Container = %q, want mp4", p.Container)
	}

	// A dry run touches nothing: no scratch tree, no engine calls.
	if jobs := scratchJobs(t, base); len(jobs) != 0 {
		t.Errorf("dry run created scratch dirs: %v", jobs)
	}
	if fr.engineCalls != 0 {
		t.Errorf("dry run invoked the engine %d times", fr.engineCalls)
	}
	if last := rep.lastUpdate(); last.Stage != progress.StageCompleted ||
		!strings.Contains(last.Message, "Planned:") {
		t.Errorf("final update = %+v, want StageCompleted with Planned", last)
	}
}

func TestPlan_NoSideEffects(t *testing.T) {
	input, base := newTestEnv(t)
	fr := newFake(t)
	s := newTestService(fr, nil, model.Options{Scale: model.Scale2, Workers: 4})

	p, err := s.Plan(context.Background(), input)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if p.TargetWidth != 640 || p.TargetHeight != 360 {
		t.Errorf("target = %dx%d, want 640x360", p.TargetWidth, p.TargetHeight)
	}
	if p.Spec.FPSRaw != "24/1" {
		t.Errorf("FPSRaw = %q, want the probed rational", p.Spec.FPSRaw)
	}
	if fr.probeCalls != 1 {
		t.Errorf("probe calls = %d, want 1", fr.probeCalls)
	}
	if jobs := scratchJobs(t, base); len(jobs) != 0 {
		t.Errorf("Plan created scratch dirs: %v", jobs)
	}
}

func TestRunJob_EndToEnd(t *testing.T) {
	input, base := newTestEnv(t)
	fr := newFake(t)
	rep := &recordingReporter{}
	s := newTestService(fr, rep, model.Options{Workers: 2})

	res, err := s.RunJob(context.Background(), input)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if res.Frames != 6 {
		t.Errorf("Frames = %d, want 6", res.Frames)
	}
	if res.Bytes != 4096 {
		t.Errorf("Bytes = %d, want 4096", res.Bytes)
	}
	if fr.engineCalls != 6 {
		t.Errorf("engine calls = %d, want 6", fr.engineCalls)
	}
	fi, statErr := os.Stat(res.OutputPath)
	if statErr != nil {
		t.Fatalf("output missing: %v", statErr)
	}
	if fi.Size() != 4096 {
		t.Errorf("output size = %d", fi.Size())
	}
	if res.Scratch != "" {
		t.Errorf("Scratch = %q, want empty without keep-frames", res.Scratch)
	}
	if jobs := scratchJobs(t, base); len(jobs) != 0 {
		t.Errorf("scratch not cleaned up: %v", jobs)
	}

	if last := rep.lastUpdate(); last.Stage != progress.StageCompleted ||
		!strings.Contains(last.Message, "Saved:") {
		t.Errorf("final update = %+v, want StageCompleted with Saved", last)
	}
	if len(rep.results) != 1 || rep.results[0].Err != nil {
		t.Fatalf("results = %+v, want one success", rep.results)
	}
	if rep.results[0].Frames != 6 || rep.results[0].OutputPath != res.OutputPath {
		t.Errorf("result = %+v", rep.results[0])
	}
}

func TestRunJob_KeepFrames(t *testing.T) {
	input, _ := newTestEnv(t)
	fr := newFake(t)
	s := newTestService(fr, nil, model.Options{Workers: 1, KeepFrames: true})

	res, err := s.RunJob(context.Background(), input)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if res.Scratch == "" {
		t.Fatal("Scratch should be reported when keep-frames is set")
	}
	for _, sub := range []string{"frames", "upscaled"} {
		entries, err := os.ReadDir(filepath.Join(res.Scratch, sub))
		if err != nil {
			t.Fatalf("kept scratch %s: %v", sub, err)
		}
		if len(entries) != 6 {
			t.Errorf("%s retained %d files, want 6", sub, len(entries))
		}
	}
}

func TestRunJob_KeepFramesOnFailure(t *testing.T) {
	input, _ := newTestEnv(t)
	fr := newFake(t)
	fr.engineFailOn = map[string]bool{"frame_00000003.png": true}
	s := newTestService(fr, nil, model.Options{Workers: 1, KeepFrames: true})

	res, err := s.RunJob(context.Background(), input)
	if err == nil {
		t.Fatal("expected upscale failure")
	}
	if res.Scratch == "" {
		t.Fatal("Scratch should be reported even when the job fails")
	}
	// The kept tree holds every extracted frame plus the two upscaled
	// before the failure.
	entries, readErr := os.ReadDir(filepath.Join(res.Scratch, "frames"))
	if readErr != nil {
		t.Fatalf("kept frames dir: %v", readErr)
	}
	if len(entries) != 6 {
		t.Errorf("frames retained %d files, want 6", len(entries))
	}
	upscaled, readErr := os.ReadDir(filepath.Join(res.Scratch, "upscaled"))
	if readErr != nil {
		t.Fatalf("kept upscaled dir: %v", readErr)
	}
	if len(upscaled) != 2 {
		t.Errorf("upscaled retained %d files, want 2", len(upscaled))
	}
}

func TestRunJob_UpscaleFailure(t *testing.T) {
	input, base := newTestEnv(t)
	fr := newFake(t)
	fr.engineFailOn = map[string]bool{"frame_00000003.png": true}
	s := newTestService(fr, nil, model.Options{Workers: 1})

	res, err := s.RunJob(context.Background(), input)
	if err == nil {
		t.Fatal("expected upscale failure")
	}
	if !strings.HasPrefix(err.Error(), "upscale:") {
		t.Errorf("error = %v, want upscale stage label", err)
	}
	if !errors.Is(err, upscale.ErrEngine) {
		t.Errorf("errors.Is(err, ErrEngine) = false: %v", err)
	}
	// Fail-fast with one worker: frames 4..6 never dispatched.
	if fr.engineCalls != 3 {
		t.Errorf("engine calls = %d, want 3", fr.engineCalls)
	}
	if res.OutputPath != "" {
		t.Errorf("OutputPath = %q on failure", res.OutputPath)
	}
	if jobs := scratchJobs(t, base); len(jobs) != 0 {
		t.Errorf("scratch not cleaned after failure: %v", jobs)
	}
	// Task states survive in the returned job for diagnostics.
	if res.Job == nil || len(res.Job.Tasks) != 6 {
		t.Fatalf("Job tasks = %+v", res.Job)
	}
	states := make([]model.TaskState, len(res.Job.Tasks))
	for i, task := range res.Job.Tasks {
		states[i] = task.State
	}
	want := []model.TaskState{
		model.TaskDone, model.TaskDone, model.TaskFailed,
		model.TaskPending, model.TaskPending, model.TaskPending,
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("task %d state = %v, want %v", i, states[i], want[i])
		}
	}
}

func TestRunJob_EngineNotInstalled(t *testing.T) {
	input, _ := newTestEnv(t)
	fr := newFake(t)
	fr.engineSpawnErr = true
	s := newTestService(fr, nil, model.Options{Workers: 2})

	_, err := s.RunJob(context.Background(), input)
	if err == nil {
		t.Fatal("expected spawn failure")
	}
	// Probing and extraction succeed before the engine is first needed.
	if fr.probeCalls != 1 {
		t.Errorf("probe calls = %d, want 1", fr.probeCalls)
	}
	if !strings.HasPrefix(err.Error(), "upscale:") {
		t.Errorf("error = %v, want upscale stage label", err)
	}
	if !errors.Is(err, util.ErrSpawn) {
		t.Errorf("errors.Is(err, ErrSpawn) = false: %v", err)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	input, base := newTestEnv(t)
	fr := newFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	fr.onEngineCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	s := newTestService(fr, nil, model.Options{Workers: 1})

	_, err := s.RunJob(ctx, input)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("errors.Is(err, context.Canceled) = false: %v", err)
	}
	if jobs := scratchJobs(t, base); len(jobs) != 0 {
		t.Errorf("scratch not cleaned after cancel: %v", jobs)
	}
}

func TestRunJob_ExplicitOutput(t *testing.T) {
	input, _ := newTestEnv(t)
	outDir := t.TempDir()
	out := filepath.Join(outDir, "nested", "final.mkv")
	fr := newFake(t)
	s := newTestService(fr, nil, model.Options{Workers: 1, OutputPath: out})

	res, err := s.RunJob(context.Background(), input)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if res.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", res.OutputPath, out)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("explicit output missing: %v", err)
	}
	if res.Job.Container != model.ContainerMKV {
		t.Errorf("Container = %q, want mkv", res.Job.Container)
	}
}
