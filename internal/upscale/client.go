package upscale

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"upscalevid/internal/model"
	"upscalevid/internal/util"
)

// ErrEngine means the upscaling engine ran but did not deliver a frame.
var ErrEngine = errors.New("upscale engine failed")

// Engine invokes the external single-image super-resolution tool for one
// frame at a time. The tool is a black box: given an input image it must
// write an output image scaled by exactly the requested factor.
type Engine struct {
	Binary    string // engine binary; resolved lazily at spawn time
	Model     string
	ModelPath string
	Scale     model.ScaleFactor
	GPUID     string
	TileSize  int
	TTA       bool
	Timeout   time.Duration // per-frame deadline; 0 = none
	Runner    util.Runner
	Verbose   bool
}

// BuildArgs returns the engine argv for a single frame.
func (e *Engine) BuildArgs(in, out string) []string {
	args := []string{
		"run",
		"-i", in,
		"-o", out,
	}
	if e.ModelPath != "" {
		args = append(args, "-m", e.ModelPath)
	}
	args = append(args,
		"-n", e.Model,
		"-s", strconv.Itoa(int(e.Scale)),
		"-f", "png",
	)
	if e.GPUID != "" {
		args = append(args, "-g", e.GPUID)
	}
	if e.TileSize > 0 {
		args = append(args, "-t", strconv.Itoa(e.TileSize))
	}
	if e.TTA {
		args = append(args, "-x")
	}
	return args
}

// UpscaleFrame runs the engine for one frame. Spawn failures, timeouts and
// interruptions pass through with their class intact; a nonzero exit is
// wrapped as ErrEngine with the tool's diagnostic tail. An engine that
// exits zero without writing the output file is also a failure.
func (e *Engine) UpscaleFrame(ctx context.Context, in, out string) error {
	res, err := e.Runner.Run(ctx, util.CmdSpec{
		Path:    e.Binary,
		Args:    e.BuildArgs(in, out),
		Timeout: e.Timeout,
		Verbose: e.Verbose,
	})
	if err != nil {
		if errors.Is(err, util.ErrSpawn) || errors.Is(err, util.ErrTimeout) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w (exit %d): %s", ErrEngine, res.Code, util.TailLines(res.Stderr, 3))
	}
	st, statErr := os.Stat(out)
	if statErr != nil || st.Size() == 0 {
		return fmt.Errorf("%w: exited 0 but wrote nothing for %s", ErrEngine, filepath.Base(in))
	}
	return nil
}
