package reassemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"upscalevid/internal/extract"
	"upscalevid/internal/ffmpeg"
	"upscalevid/internal/progress"
	"upscalevid/internal/util"
)

// Failure classes for the reassembly stage.
var (
	// ErrMissingFrames means the upscaled set does not cover every task.
	ErrMissingFrames = errors.New("missing upscaled frames")
	// ErrAudioRemux means ffmpeg failed on the audio copy path.
	ErrAudioRemux = errors.New("audio remux failed")
	// ErrEncode means the video encode itself failed.
	ErrEncode = errors.New("video reassembly failed")
)

// Reassembler encodes the upscaled frame sequence into the output file.
type Reassembler struct {
	Binary   string // path to ffmpeg
	Runner   util.Runner
	Reporter progress.Reporter
	JobID    string
	Verbose  bool
}

// Output describes the produced file.
type Output struct {
	Path  string
	Bytes int64
}

// Reassemble verifies the upscaled set is complete, encodes it at the
// original framerate and returns the produced file. A failed or empty
// encode never leaves a partial output behind.
func (r *Reassembler) Reassemble(ctx context.Context, in Inputs) (Output, error) {
	frames, err := extract.ListFrames(in.FramesDir)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrMissingFrames, err)
	}
	if len(frames) != in.Expected {
		return Output{}, fmt.Errorf("%w: have %d of %d", ErrMissingFrames, len(frames), in.Expected)
	}

	if dir := filepath.Dir(in.Output); dir != "." {
		if err := util.EnsureDir(dir); err != nil {
			return Output{}, fmt.Errorf("ensure output dir: %w", err)
		}
	}

	ps := &ffmpeg.ProgressState{
		JobID:       r.JobID,
		Stage:       progress.StageEncoding,
		Message:     "Encoding video",
		DurationSec: in.Spec.DurationSec,
	}

	res, runErr := r.Runner.Run(ctx, util.CmdSpec{
		Path:    r.Binary,
		Args:    BuildArgs(in),
		Verbose: r.Verbose,
		StdoutLine: func(line string) {
			if u, ok := ps.UpdateFromLine(line); ok && r.Reporter != nil {
				r.Reporter.Update(u)
			}
		},
	})
	if runErr != nil {
		// Delete incomplete file
		_ = util.RemoveIfExists(in.Output)
		if errors.Is(runErr, util.ErrSpawn) || ctx.Err() != nil {
			return Output{}, fmt.Errorf("ffmpeg: %w", runErr)
		}
		tail := util.TailLines(res.Stderr, 4)
		if in.Spec.HasAudio && ffmpeg.MatchAudioRemuxIssue(string(res.Stderr)) {
			return Output{}, fmt.Errorf("%w: %s", ErrAudioRemux, tail)
		}
		if ffmpeg.MatchMissingInput(string(res.Stderr)) {
			return Output{}, fmt.Errorf("%w: %s", ErrMissingFrames, tail)
		}
		return Output{}, fmt.Errorf("%w: %s", ErrEncode, tail)
	}

	fi, err := os.Stat(in.Output)
	if err != nil {
		return Output{}, fmt.Errorf("%w: output missing after encode: %v", ErrEncode, err)
	}
	if fi.Size() == 0 {
		_ = util.RemoveIfExists(in.Output)
		return Output{}, fmt.Errorf("%w: output is empty", ErrEncode)
	}
	return Output{Path: in.Output, Bytes: fi.Size()}, nil
}
