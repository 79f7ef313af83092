package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"upscalevid/internal/ffmpeg"
	"upscalevid/internal/model"
	"upscalevid/internal/progress"
	"upscalevid/internal/util"
)

// Failure classes for the extraction stage.
var (
	// ErrDecode means ffmpeg exited nonzero while decoding the input.
	ErrDecode = errors.New("frame extraction failed")
	// ErrNoFrames means ffmpeg succeeded but wrote no frame files.
	ErrNoFrames = errors.New("no frames produced")
)

// FramePattern is the printf-style name shared by extraction, upscaling and
// reassembly. The zero-padded index pins frame order to decode order no
// matter what order the upscale workers finish in.
const FramePattern = "frame_%08d.png"

// Extractor decodes every frame of an input into numbered PNGs.
type Extractor struct {
	Binary   string // path to ffmpeg
	Runner   util.Runner
	Reporter progress.Reporter
	JobID    string
	Verbose  bool
}

// BuildArgs returns the ffmpeg argument list that decodes input into dir.
// -vsync cfr forces constant frame rate so numbering matches playback time
// even for variable-rate sources.
func BuildArgs(input, dir string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-nostats",
		"-i", input,
		"-vsync", "cfr",
		filepath.Join(dir, FramePattern),
	}
}

// Extract decodes spec's video into dir and returns the ordered frame
// paths. Progress is derived from ffmpeg's out_time against the known
// duration.
func (e *Extractor) Extract(ctx context.Context, spec model.VideoSpec, dir string) ([]string, error) {
	ps := &ffmpeg.ProgressState{
		JobID:       e.JobID,
		Stage:       progress.StageExtracting,
		Message:     "Extracting frames",
		DurationSec: spec.DurationSec,
	}

	res, err := e.Runner.Run(ctx, util.CmdSpec{
		Path:    e.Binary,
		Args:    BuildArgs(spec.Path, dir),
		Verbose: e.Verbose,
		StdoutLine: func(line string) {
			if u, ok := ps.UpdateFromLine(line); ok && e.Reporter != nil {
				e.Reporter.Update(u)
			}
		},
	})
	if err != nil {
		if errors.Is(err, util.ErrSpawn) || ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrDecode, util.TailLines(res.Stderr, 4))
	}

	frames, err := ListFrames(dir)
	if err != nil {
		return nil, err
	}
	return frames, nil
}

// ListFrames returns the frame files in dir sorted by index, verifying the
// numbering is contiguous and starts at 1. It is shared with reassembly,
// which re-counts the upscaled set before encoding.
func ListFrames(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrames, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFrames, dir)
	}
	sort.Strings(matches)

	for i, path := range matches {
		idx, ok := frameIndex(path)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected file %s", ErrNoFrames, filepath.Base(path))
		}
		if idx != i+1 {
			return nil, fmt.Errorf("%w: gap in sequence at %s (want index %d)",
				ErrNoFrames, filepath.Base(path), i+1)
		}
	}
	return matches, nil
}

// frameIndex parses the numeric index out of a frame_%08d.png name.
func frameIndex(path string) (int, bool) {
	base := filepath.Base(path)
	s := strings.TrimSuffix(strings.TrimPrefix(base, "frame_"), ".png")
	if len(s) != 8 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
