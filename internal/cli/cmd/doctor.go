package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upscalevid/internal/util/deps"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "doctor",
		Short:         "Diagnose external dependencies (ffmpeg, ffprobe, upscayl, models)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			missing := 0

			report := func(name, path string, err error) {
				if err != nil {
					missing++
					fmt.Fprintf(w, "✗ %-10s %v\n", name+":", err)
					return
				}
				fmt.Fprintf(w, "✓ %-10s %s\n", name+":", path)
			}

			ff, err := deps.FindFFmpeg(viper.GetString("ffmpeg_binary"))
			report("ffmpeg", ff, err)
			fp, err := deps.FindFFprobe(viper.GetString("ffprobe_binary"))
			report("ffprobe", fp, err)
			up, err := deps.FindUpscayl(viper.GetString("upscayl_binary"))
			report("upscayl", up, err)

			modelDir := viper.GetString("model_path")
			if modelDir == "" {
				modelDir = deps.DefaultModelDir()
			}
			if err := deps.CheckModelDir(modelDir); err != nil {
				missing++
				fmt.Fprintf(w, "✗ %-10s %v\n", "models:", err)
			} else {
				n := countModels(modelDir)
				fmt.Fprintf(w, "✓ %-10s %s (%d model files)\n", "models:", modelDir, n)
			}

			if missing > 0 {
				return &ExitError{
					Code: ExitMissingDep,
					Err:  fmt.Errorf("%d dependency problem(s) found", missing),
				}
			}
			return nil
		},
	}
}

// countModels counts .bin weights in the model directory; each model ships
// as a .bin/.param pair.
func countModels(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".bin" {
			n++
		}
	}
	return n
}
