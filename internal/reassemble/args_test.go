package reassemble

import (
	"strings"
	"testing"

	"upscalevid/internal/model"
)

func TestBuildArgs(t *testing.T) {
	spec := model.VideoSpec{
		Path:        "/videos/clip.mp4",
		FPSRaw:      "30000/1001",
		DurationSec: 120.12,
		HasAudio:    true,
	}

	tests := []struct {
		name            string
		in              Inputs
		wantContains    []string
		wantNotContains []string
	}{
		{
			name: "mp4 with audio",
			in: Inputs{
				FramesDir: "/scratch/upscaled",
				Expected:  3600,
				Spec:      spec,
				Output:    "/videos/clip_upscaled.mp4",
				Container: model.ContainerMP4,
			},
			wantContains: []string{
				"-framerate 30000/1001",
				"-i /scratch/upscaled/frame_%08d.png",
				"-i /videos/clip.mp4",
				"-map 0:v",
				"-map 1:a",
				"-c:a copy",
				"-c:v libx265",
				"-crf 18",
				"-preset slow",
				"-tag:v hvc1",
				"-pix_fmt yuv420p",
				"-progress pipe:1",
			},
		},
		{
			name: "no audio means single input",
			in: Inputs{
				FramesDir: "/scratch/upscaled",
				Expected:  100,
				Spec: model.VideoSpec{
					Path:        "/videos/silent.mp4",
					FPSRaw:      "25/1",
					DurationSec: 4,
					HasAudio:    false,
				},
				Output:    "/videos/silent_upscaled.mp4",
				Container: model.ContainerMP4,
			},
			wantContains: []string{"-framerate 25/1"},
			wantNotContains: []string{
				"-map", "-c:a", "/videos/silent.mp4 ",
			},
		},
		{
			name: "mkv skips the hvc1 tag",
			in: Inputs{
				FramesDir: "/scratch/upscaled",
				Expected:  10,
				Spec:      spec,
				Output:    "/videos/clip_upscaled.mkv",
				Container: model.ContainerMKV,
			},
			wantContains:    []string{"-c:v libx265"},
			wantNotContains: []string{"-tag:v"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined := strings.Join(BuildArgs(tt.in), " ")
			for _, want := range tt.wantContains {
				if !strings.Contains(joined, want) {
					t.Errorf("args missing %q in: %s", want, joined)
				}
			}
			for _, notWant := range tt.wantNotContains {
				if strings.Contains(joined, notWant) {
					t.Errorf("args should not contain %q: %s", notWant, joined)
				}
			}
		})
	}
}

func TestBuildArgsOrdering(t *testing.T) {
	in := Inputs{
		FramesDir: "/s/up",
		Spec:      model.VideoSpec{Path: "/v/in.mp4", FPSRaw: "24/1", HasAudio: true},
		Output:    "/v/out.mp4",
		Container: model.ContainerMP4,
	}
	joined := strings.Join(BuildArgs(in), " ")

	// -framerate is an input option: it must precede the image sequence,
	// and the image sequence must be input 0 for the -map flags to hold.
	framerate := strings.Index(joined, "-framerate")
	pattern := strings.Index(joined, "frame_%08d.png")
	source := strings.Index(joined, "/v/in.mp4")
	output := strings.Index(joined, "/v/out.mp4")

	if !(framerate < pattern && pattern < source && source < output) {
		t.Errorf("argument order wrong: %s", joined)
	}
}
