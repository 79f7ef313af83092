package reassemble

import (
	"path/filepath"
	"strconv"

	"upscalevid/internal/extract"
	"upscalevid/internal/model"
)

// The encode is fixed: HEVC at a visually lossless CRF. The point of the
// pipeline is the spatial upscale; rate control stays out of the way.
const (
	videoCodec = "libx265"
	crf        = 18
	presetName = "slow"
)

// Inputs describe one reassembly.
type Inputs struct {
	FramesDir string          // directory holding the upscaled frames
	Expected  int             // frames that must be present
	Spec      model.VideoSpec // probe result: framerate, audio, duration
	Output    string
	Container model.Container
}

// BuildArgs constructs the ffmpeg invocation that turns the upscaled frame
// sequence back into a video. The image sequence is read at the original
// rational framerate string, never a recomputed float; when the source has
// audio it is mapped in from the original file and copied bit-for-bit.
func BuildArgs(in Inputs) []string {
	args := []string{
		"-hide_banner", "-loglevel", "warning",
		"-y",
		"-progress", "pipe:1", "-nostats",
		"-framerate", in.Spec.FPSRaw,
		"-i", filepath.Join(in.FramesDir, extract.FramePattern),
	}
	if in.Spec.HasAudio {
		args = append(args,
			"-i", in.Spec.Path,
			"-map", "0:v",
			"-map", "1:a",
			"-c:a", "copy",
		)
	}
	args = append(args,
		"-c:v", videoCodec,
		"-crf", strconv.Itoa(crf),
		"-preset", presetName,
	)
	if in.Container.NeedsHVC1() {
		args = append(args, "-tag:v", "hvc1")
	}
	args = append(args, "-pix_fmt", "yuv420p", in.Output)
	return args
}
