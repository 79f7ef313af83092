package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"upscalevid/internal/model"
	"upscalevid/internal/util"
)

// Failure classes surfaced by inspection.
var (
	// ErrUnreadable means ffprobe could not open or parse the input.
	ErrUnreadable = errors.New("input is not a readable media file")
	// ErrNoVideoStream means the container holds no usable video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// Prober inspects an input file with a single ffprobe JSON call.
type Prober struct {
	Binary  string // path to ffprobe
	Runner  util.Runner
	Verbose bool
}

// Probe returns the immutable description of the input video, or a
// classified error. Audio presence is taken from the same call, so one
// ffprobe invocation covers everything the pipeline needs to know.
func (p *Prober) Probe(ctx context.Context, path string) (model.VideoSpec, error) {
	res, err := p.Runner.Run(ctx, util.CmdSpec{
		Path: p.Binary,
		Args: []string{
			"-hide_banner", "-loglevel", "error",
			"-print_format", "json",
			"-show_format", "-show_streams",
			path,
		},
		Verbose:       p.Verbose,
		CaptureStdout: true,
	})
	if err != nil {
		if errors.Is(err, util.ErrSpawn) || ctx.Err() != nil {
			return model.VideoSpec{}, fmt.Errorf("ffprobe: %w", err)
		}
		return model.VideoSpec{}, fmt.Errorf("%w: %s", ErrUnreadable, util.TailLines(res.Stderr, 4))
	}
	return ParseJSON(path, res.Stdout)
}

// ParseJSON converts raw ffprobe JSON output into a VideoSpec.
// Exported so tests run against fixtures without a real ffprobe binary.
func ParseJSON(path string, data []byte) (model.VideoSpec, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.VideoSpec{}, fmt.Errorf("%w: parse ffprobe JSON: %v", ErrUnreadable, err)
	}
	return buildSpec(path, &raw)
}

func buildSpec(path string, raw *ffprobeOutput) (model.VideoSpec, error) {
	var video *ffprobeStream
	hasAudio := false
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			// Cover art embedded in music files shows up as a video
			// stream flagged attached_pic; it is not the movie.
			if video == nil && s.Disposition["attached_pic"] != 1 {
				video = s
			}
		case "audio":
			hasAudio = true
		}
	}
	if video == nil {
		return model.VideoSpec{}, fmt.Errorf("%w in %s", ErrNoVideoStream, path)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return model.VideoSpec{}, fmt.Errorf("%w: stream reports %dx%d", ErrUnreadable, video.Width, video.Height)
	}

	fpsRaw := video.RFrameRate
	fps := parseRational(fpsRaw)
	if fps <= 0 {
		fpsRaw = video.AvgFrameRate
		fps = parseRational(fpsRaw)
	}
	if fps <= 0 {
		return model.VideoSpec{}, fmt.Errorf("%w: no usable framerate (r_frame_rate=%q avg_frame_rate=%q)",
			ErrUnreadable, video.RFrameRate, video.AvgFrameRate)
	}

	duration := parseFloat(raw.Format.Duration)
	frames := parseInt(video.NbFrames)
	if frames <= 0 && duration > 0 {
		frames = int(math.Round(fps * duration))
	}
	if frames < 0 {
		frames = 0
	}

	return model.VideoSpec{
		Path:        path,
		Width:       video.Width,
		Height:      video.Height,
		FPS:         fps,
		FPSRaw:      fpsRaw,
		DurationSec: duration,
		FrameCount:  frames,
		HasAudio:    hasAudio,
	}, nil
}
