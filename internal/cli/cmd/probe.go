package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upscalevid/internal/model"
	"upscalevid/internal/probe"
	"upscalevid/internal/util"
	"upscalevid/internal/util/deps"
	"upscalevid/internal/util/format"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "probe <input>",
		Short:         "Inspect a video and show what upscaling it would produce",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scaleN, _ := cmd.Flags().GetInt("scale")
			scale, err := model.ParseScale(scaleN)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}

			ffprobePath, err := deps.FindFFprobe(viper.GetString("ffprobe_binary"))
			if err != nil {
				return &ExitError{Code: ExitMissingDep, Err: err}
			}

			p := &probe.Prober{
				Binary:  ffprobePath,
				Runner:  util.NewRunner(),
				Verbose: viper.GetBool("verbose"),
			}
			spec, err := p.Probe(cmd.Context(), args[0])
			if err != nil {
				return mapExitError(fmt.Errorf("probe: %w", err))
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderSpecTable(spec, scale))
			return nil
		},
	}
	cmd.Flags().IntP("scale", "s", 4, "Upscale factor used for the target row: 2, 3 or 4")
	return cmd
}

func renderSpecTable(spec model.VideoSpec, scale model.ScaleFactor) string {
	duration := "unknown"
	if spec.DurationSec > 0 {
		duration = format.HumanizeDuration(time.Duration(spec.DurationSec * float64(time.Second)))
	}
	frames := "unknown until extraction"
	if spec.FrameCount > 0 {
		frames = strconv.Itoa(spec.FrameCount)
	}
	audio := "no"
	if spec.HasAudio {
		audio = "yes"
	}
	tw, th := spec.TargetSize(scale)

	rows := [][]string{
		{"Input", spec.Path},
		{"Resolution", fmt.Sprintf("%dx%d", spec.Width, spec.Height)},
		{"Framerate", fmt.Sprintf("%s (%.3f fps)", spec.FPSRaw, spec.FPS)},
		{"Duration", duration},
		{"Frames", frames},
		{"Audio", audio},
		{fmt.Sprintf("Upscaled (%dx)", scale), fmt.Sprintf("%dx%d", tw, th)},
	}
	return renderTable([]string{"Property", "Value"}, rows)
}

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
