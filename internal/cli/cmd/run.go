package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"upscalevid/internal/extract"
	"upscalevid/internal/model"
	"upscalevid/internal/pipeline"
	"upscalevid/internal/probe"
	"upscalevid/internal/progress"
	"upscalevid/internal/reassemble"
	"upscalevid/internal/scratch"
	"upscalevid/internal/ui"
	"upscalevid/internal/upscale"
	"upscalevid/internal/util"
	"upscalevid/internal/util/deps"
	"upscalevid/internal/util/format"
)

type runMode struct {
	ForceTUI   bool
	DryRunOnly bool
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run <input> [output]",
		Short:         "Upscale a video file",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.RangeArgs(1, 2),
		PreRunE:       runPreRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, args, runMode{})
		},
	}
	// Bind same flags as root for explicit subcommand usage
	bindRunFlags(cmd.Flags())
	_ = cmd.Flags().MarkDeprecated("dry-run", "use 'upscalevid plan' instead")
	return cmd
}

type ctxKey string

const runInputsKey ctxKey = "runInputs"

type runInputs struct {
	Input   string
	Options model.Options
}

func runPreRun(cmd *cobra.Command, args []string) error {
	in, err := assembleRunInputs(cmd, args)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	ctx := context.WithValue(cmd.Context(), runInputsKey, in)
	cmd.SetContext(ctx)
	return nil
}

// Run-level flags live on each command's own flag set, so values are read
// from the invoked command first and fall back to Viper (env, config file,
// default) when the flag was not passed.
func effString(cmd *cobra.Command, name string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return viper.GetString(strings.ReplaceAll(name, "-", "_"))
}

func effInt(cmd *cobra.Command, name string) int {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		return v
	}
	return viper.GetInt(strings.ReplaceAll(name, "-", "_"))
}

func effBool(cmd *cobra.Command, name string) bool {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetBool(name)
		return v
	}
	return viper.GetBool(strings.ReplaceAll(name, "-", "_"))
}

func effDuration(cmd *cobra.Command, name string) time.Duration {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetDuration(name)
		return v
	}
	return viper.GetDuration(strings.ReplaceAll(name, "-", "_"))
}

func assembleRunInputs(cmd *cobra.Command, args []string) (runInputs, error) {
	input := args[0]
	positionalOut := ""
	if len(args) == 2 {
		positionalOut = args[1]
	}

	output := effString(cmd, "output")
	if output != "" && positionalOut != "" && output != positionalOut {
		return runInputs{}, fmt.Errorf("output given twice: positional %q and --output %q", positionalOut, output)
	}
	if output == "" {
		output = positionalOut
	}
	// Reject unsupported containers before any work happens.
	if output != "" {
		if _, err := model.ParseContainer(filepath.Ext(output)); err != nil {
			return runInputs{}, err
		}
	}

	scale, err := model.ParseScale(effInt(cmd, "scale"))
	if err != nil {
		return runInputs{}, err
	}

	workers := viper.GetInt("workers")
	if workers < 1 {
		workers = 1
	}

	timeout := effDuration(cmd, "frame-timeout")
	if timeout < 0 {
		return runInputs{}, fmt.Errorf("invalid --frame-timeout %s", timeout)
	}

	tile := effInt(cmd, "tile-size")
	if tile < 0 {
		tile = 0
	}

	opts := model.Options{
		Scale:         scale,
		Model:         effString(cmd, "model"),
		ModelPath:     viper.GetString("model_path"),
		Workers:       workers,
		OutputPath:    output,
		KeepFrames:    effBool(cmd, "keep-frames"),
		Verbose:       viper.GetBool("verbose"),
		FrameTimeout:  timeout,
		GPUID:         effString(cmd, "gpu-id"),
		TileSize:      tile,
		TTA:           effBool(cmd, "tta"),
		UpscaylBinary: viper.GetString("upscayl_binary"),
		FFmpegBinary:  viper.GetString("ffmpeg_binary"),
		FFprobeBinary: viper.GetString("ffprobe_binary"),
		NoUI:          effBool(cmd, "no-ui"),
		DryRun:        effBool(cmd, "dry-run"),
	}
	return runInputs{Input: input, Options: opts}, nil
}

func runExecute(cmd *cobra.Command, args []string, mode runMode) error {
	// Grab inputs from context; if not present (root called directly
	// without PreRunE), assemble now.
	var in runInputs
	if v := cmd.Context().Value(runInputsKey); v != nil {
		in = v.(runInputs)
	} else {
		var err error
		in, err = assembleRunInputs(cmd, args)
		if err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
	}

	if mode.DryRunOnly {
		in.Options.DryRun = true
		in.Options.NoUI = true
	}

	// TUI path: interactive terminals get the full-screen view unless it
	// is disabled, planning only, or verbose (child output would tear the
	// display).
	useTUI := mode.ForceTUI ||
		(!in.Options.NoUI && !in.Options.DryRun && !in.Options.Verbose && isTerminal())
	if useTUI {
		if err := ui.Run(cmd.Context(), in.Input, in.Options); err != nil {
			return mapExitError(err)
		}
		return nil
	}

	// Non-UI path. ffprobe and ffmpeg are hard requirements up front; the
	// engine is resolved lazily so a missing binary surfaces per frame.
	ffprobePath, err := deps.FindFFprobe(in.Options.FFprobeBinary)
	if err != nil {
		return &ExitError{Code: ExitMissingDep, Err: err}
	}
	var ffmpegPath string
	if !in.Options.DryRun {
		ffmpegPath, err = deps.FindFFmpeg(in.Options.FFmpegBinary)
		if err != nil {
			return &ExitError{Code: ExitMissingDep, Err: err}
		}
	}
	enginePath := in.Options.UpscaylBinary
	if enginePath == "" {
		if p, lerr := deps.FindUpscayl(""); lerr == nil {
			enginePath = p
		} else {
			enginePath = "upscayl"
		}
	}

	svcOpts := []pipeline.Option{
		pipeline.WithFFmpegPath(ffmpegPath),
		pipeline.WithFFprobePath(ffprobePath),
		pipeline.WithEnginePath(enginePath),
		pipeline.WithOptions(in.Options),
	}
	if !in.Options.DryRun {
		svcOpts = append(svcOpts, pipeline.WithReporter(newPlainReporter(cmd.OutOrStdout())))
	}
	svc := pipeline.NewService(svcOpts...)

	res, err := svc.RunJob(cmd.Context(), in.Input)
	if err != nil {
		return mapExitError(err)
	}
	if res.Planned {
		printPlan(cmd.OutOrStdout(), ffprobePath, enginePath, res.Plan)
	}
	return nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// mapExitError turns a pipeline error into the exit code its stage owns.
// Cancellation wins over stage classification: a killed engine run should
// exit as "cancelled", not "upscale failed".
func mapExitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return &ExitError{Code: ExitCancelled, Err: err}
	case errors.Is(err, util.ErrSpawn):
		return &ExitError{Code: ExitMissingDep, Err: err}
	case errors.Is(err, probe.ErrUnreadable), errors.Is(err, probe.ErrNoVideoStream):
		return &ExitError{Code: ExitProbeError, Err: err}
	case errors.Is(err, extract.ErrDecode), errors.Is(err, extract.ErrNoFrames):
		return &ExitError{Code: ExitExtractError, Err: err}
	case errors.Is(err, upscale.ErrEngine), errors.Is(err, util.ErrTimeout):
		return &ExitError{Code: ExitUpscaleError, Err: err}
	case errors.Is(err, reassemble.ErrMissingFrames),
		errors.Is(err, reassemble.ErrAudioRemux),
		errors.Is(err, reassemble.ErrEncode):
		return &ExitError{Code: ExitEncodeError, Err: err}
	case errors.Is(err, scratch.ErrResource):
		return &ExitError{Code: ExitResourceError, Err: err}
	default:
		return &ExitError{Code: ExitCLIError, Err: err}
	}
}

var stageSeq = map[progress.Stage]int{
	progress.StageProbing:    1,
	progress.StageExtracting: 2,
	progress.StageUpscaling:  3,
	progress.StageEncoding:   4,
}

// plainReporter renders progress as log-friendly lines: one header per
// stage and a line per 10% of measurable progress.
type plainReporter struct {
	mu     sync.Mutex
	w      io.Writer
	stage  progress.Stage
	bucket int
}

func newPlainReporter(w io.Writer) *plainReporter {
	return &plainReporter{w: w}
}

func (p *plainReporter) Update(u progress.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u.Stage != p.stage {
		p.stage = u.Stage
		p.bucket = 0
		if n, ok := stageSeq[u.Stage]; ok {
			fmt.Fprintf(p.w, "[%d/4] %s...\n", n, stageHeader(u))
		}
		return
	}
	if u.Percent < 0 {
		return
	}
	if b := int(u.Percent) / 10; b > p.bucket {
		p.bucket = b
		line := fmt.Sprintf("      %3.0f%%", u.Percent)
		if u.Message != "" {
			line += " " + u.Message
		}
		if u.ETA != nil {
			line += " (eta " + format.HumanizeDuration(*u.ETA) + ")"
		}
		fmt.Fprintln(p.w, line)
	}
}

func (p *plainReporter) Log(l progress.Log) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line := strings.TrimRight(l.Line, "\r\n"); line != "" {
		fmt.Fprintf(p.w, "      %s\n", line)
	}
}

func (p *plainReporter) Result(r progress.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Err != nil {
		// The CLI prints the error once, with its exit code.
		return
	}
	fmt.Fprintf(p.w, "Saved: %s (%s in %s)\n",
		r.OutputPath, format.HumanizeBytes(r.Bytes), format.HumanizeDuration(r.Elapsed))
	if r.Scratch != "" {
		fmt.Fprintf(p.w, "Frames kept in %s\n", r.Scratch)
	}
}

func stageHeader(u progress.Update) string {
	switch u.Stage {
	case progress.StageProbing:
		return "Probing video"
	case progress.StageExtracting:
		return "Extracting frames"
	case progress.StageUpscaling:
		if u.Message != "" {
			return u.Message
		}
		return "Upscaling frames"
	case progress.StageEncoding:
		return "Encoding video"
	}
	return string(u.Stage)
}

// printPlan outputs a dry-run plan of actions without executing them.
func printPlan(w io.Writer, ffprobePath, enginePath string, p *pipeline.Plan) {
	est := "unknown"
	if p.FrameEstimate > 0 {
		est = "~" + strconv.Itoa(p.FrameEstimate)
	}
	audio := "none"
	if p.CopyAudio {
		audio = "copied bit-for-bit from the input"
	}
	fmt.Fprintln(w, "Dry-run plan:")
	fmt.Fprintf(w, "- Input:       %s (%dx%d @ %s fps, %s frames)\n",
		p.Input, p.Spec.Width, p.Spec.Height, p.Spec.FPSRaw, est)
	fmt.Fprintf(w, "- Output:      %s (%s, hevc crf 18)\n", p.Output, p.Container)
	fmt.Fprintf(w, "- Scale:       %dx -> %dx%d\n", p.Scale, p.TargetWidth, p.TargetHeight)
	fmt.Fprintf(w, "- Model:       %s\n", p.Model)
	if p.ModelPath != "" {
		fmt.Fprintf(w, "- Model path:  %s\n", p.ModelPath)
	}
	fmt.Fprintf(w, "- Workers:     %d\n", p.Workers)
	fmt.Fprintf(w, "- Audio:       %s\n", audio)
	fmt.Fprintf(w, "- Engine:      %s\n", enginePath)
	fmt.Fprintf(w, "- FFprobe:     %s\n", ffprobePath)
}
