package media

import (
	"testing"

	"upscalevid/internal/model"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		explicit string
		want     string
		wantC    model.Container
		wantErr  bool
	}{
		{
			name:  "default mp4",
			input: "clip.mp4",
			want:  "clip_upscaled.mp4",
			wantC: model.ContainerMP4,
		},
		{
			name:  "default keeps directory",
			input: "/videos/holiday.mkv",
			want:  "/videos/holiday_upscaled.mkv",
			wantC: model.ContainerMKV,
		},
		{
			name:  "default keeps input spelling",
			input: "clip.m4v",
			want:  "clip_upscaled.m4v",
			wantC: model.ContainerMP4,
		},
		{
			name:  "unsupported input ext falls back to mp4",
			input: "clip.webm",
			want:  "clip_upscaled.mp4",
			wantC: model.ContainerMP4,
		},
		{
			name:     "explicit path wins",
			input:    "clip.mp4",
			explicit: "/out/final.mov",
			want:     "/out/final.mov",
			wantC:    model.ContainerMOV,
		},
		{
			name:     "explicit unsupported container rejected",
			input:    "clip.mp4",
			explicit: "out.webm",
			wantErr:  true,
		},
		{
			name:     "explicit without extension rejected",
			input:    "clip.mp4",
			explicit: "out",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, c, err := OutputPath(tt.input, tt.explicit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OutputPath(%q, %q) error = %v, wantErr %v", tt.input, tt.explicit, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("path = %q, want %q", got, tt.want)
			}
			if c != tt.wantC {
				t.Errorf("container = %v, want %v", c, tt.wantC)
			}
		})
	}
}
