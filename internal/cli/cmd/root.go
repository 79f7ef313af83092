package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"upscalevid/internal/config"
)

// Process exit codes, one per failure stage so scripts can branch on what
// went wrong.
const (
	ExitOK            = 0
	ExitCLIError      = 1
	ExitMissingDep    = 2
	ExitProbeError    = 3
	ExitExtractError  = 4
	ExitUpscaleError  = 5
	ExitEncodeError   = 6
	ExitResourceError = 7
	ExitCancelled     = 8
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "upscalevid <input> [output]",
		Short:         "AI video upscaler driven by the upscayl engine",
		Long:          "Upscalevid upscales a video file frame by frame. It probes the input, explodes it into PNG frames, runs every frame through the upscayl super-resolution engine, and reassembles the enlarged frames with the original audio into a new video.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Bare `upscalevid <input>` behaves exactly like `run`.
			return runExecute(cmd, args, runMode{})
		},
	}

	// Persistent flags available to all subcommands
	root.PersistentFlags().BoolP("verbose", "v", false, "Show full subprocess commands/output")
	root.PersistentFlags().IntP("workers", "w", 1, "Concurrent upscale workers")
	root.PersistentFlags().StringP("model-path", "m", "", "Directory holding upscayl models (default ~/.upscayl-cli/resources/models)")
	root.PersistentFlags().String("upscayl-binary", "", "Path to the upscayl binary")
	root.PersistentFlags().String("ffmpeg-binary", "", "Path to ffmpeg")
	root.PersistentFlags().String("ffprobe-binary", "", "Path to ffprobe")

	// Also bind run-specific flags on root, so `upscalevid <input>` works
	// without the explicit subcommand.
	bindRunFlags(root.Flags())
	_ = root.Flags().MarkDeprecated("dry-run", "use 'upscalevid plan' instead")

	// Layer env (UPSCALEVID_*) and the config file under the flags.
	_ = config.Init(root)

	// Subcommands
	root.AddCommand(newRunCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newTuiCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newCompletionCmd())

	return root
}

func bindRunFlags(fs *pflag.FlagSet) {
	fs.IntP("scale", "s", 4, "Upscale factor: 2, 3 or 4")
	fs.StringP("model", "n", "upscayl-standard-4x", "Upscayl model name")
	fs.StringP("output", "o", "", "Output file (default <input>_upscaled.<ext>)")
	fs.Bool("keep-frames", false, "Keep the scratch frame directory")
	fs.Duration("frame-timeout", 10*time.Minute, "Per-frame engine deadline (0 disables)")
	fs.String("gpu-id", "", "GPU device id passed to the engine")
	fs.Int("tile-size", 0, "Engine tile size; 0 lets the engine decide")
	fs.Bool("tta", false, "Enable test-time augmentation (slow, marginally better)")
	fs.Bool("dry-run", false, "Show plan without executing") // deprecated in favor of 'plan'
	fs.Bool("no-ui", false, "Disable TUI; use plain textual output")
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	return root.ExecuteContext(ctx)
}
