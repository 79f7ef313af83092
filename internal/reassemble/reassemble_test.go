package reassemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"upscalevid/internal/model"
	"upscalevid/internal/util"
)

// encodeRunner fakes ffmpeg: on success it writes the output file (the
// last argument), otherwise it fails with the configured stderr.
type encodeRunner struct {
	fail    bool
	stderr  string
	payload []byte
}

func (r encodeRunner) Run(ctx context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	if r.fail {
		err := fmt.Errorf("command failed (exit 1)")
		return util.CmdResult{Stderr: []byte(r.stderr), Code: 1, Err: err}, err
	}
	out := spec.Args[len(spec.Args)-1]
	payload := r.payload
	if payload == nil {
		payload = []byte("encoded video")
	}
	if err := os.WriteFile(out, payload, 0o644); err != nil {
		return util.CmdResult{}, err
	}
	return util.CmdResult{}, nil
}

func writeUpscaled(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("frame_%08d.png", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("up"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testInputs(t *testing.T, frames int) Inputs {
	t.Helper()
	return Inputs{
		FramesDir: writeUpscaled(t, frames),
		Expected:  frames,
		Spec: model.VideoSpec{
			Path:        "in.mp4",
			FPSRaw:      "25/1",
			DurationSec: 2,
			HasAudio:    true,
		},
		Output:    filepath.Join(t.TempDir(), "out.mp4"),
		Container: model.ContainerMP4,
	}
}

func TestReassembleSuccess(t *testing.T) {
	r := &Reassembler{Binary: "ffmpeg", Runner: encodeRunner{}}
	in := testInputs(t, 5)

	out, err := r.Reassemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Reassemble() error: %v", err)
	}
	if out.Path != in.Output {
		t.Errorf("Path = %s, want %s", out.Path, in.Output)
	}
	if out.Bytes == 0 {
		t.Error("Bytes = 0, want nonzero")
	}
}

func TestReassembleMissingFrames(t *testing.T) {
	r := &Reassembler{Binary: "ffmpeg", Runner: encodeRunner{}}

	t.Run("count mismatch", func(t *testing.T) {
		in := testInputs(t, 4)
		in.Expected = 5
		_, err := r.Reassemble(context.Background(), in)
		if !errors.Is(err, ErrMissingFrames) {
			t.Errorf("error = %v, want ErrMissingFrames", err)
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		in := testInputs(t, 3)
		in.FramesDir = t.TempDir()
		_, err := r.Reassemble(context.Background(), in)
		if !errors.Is(err, ErrMissingFrames) {
			t.Errorf("error = %v, want ErrMissingFrames", err)
		}
	})
}

func TestReassembleClassifiesFailures(t *testing.T) {
	t.Run("audio remux failure", func(t *testing.T) {
		r := &Reassembler{Binary: "ffmpeg", Runner: encodeRunner{
			fail:   true,
			stderr: "Stream map '1:a' matches no streams.",
		}}
		in := testInputs(t, 2)
		_, err := r.Reassemble(context.Background(), in)
		if !errors.Is(err, ErrAudioRemux) {
			t.Errorf("error = %v, want ErrAudioRemux", err)
		}
	})

	t.Run("encode failure", func(t *testing.T) {
		r := &Reassembler{Binary: "ffmpeg", Runner: encodeRunner{
			fail:   true,
			stderr: "x265 [error]: failed to open encoder",
		}}
		in := testInputs(t, 2)
		_, err := r.Reassemble(context.Background(), in)
		if !errors.Is(err, ErrEncode) {
			t.Errorf("error = %v, want ErrEncode", err)
		}
		if _, statErr := os.Stat(in.Output); !os.IsNotExist(statErr) {
			t.Error("failed encode must not leave an output file")
		}
	})

	t.Run("frames vanished mid-encode", func(t *testing.T) {
		r := &Reassembler{Binary: "ffmpeg", Runner: encodeRunner{
			fail:   true,
			stderr: "Could find no file with path '/scratch/upscaled/frame_%08d.png' and index in the range 1-8",
		}}
		in := testInputs(t, 2)
		_, err := r.Reassemble(context.Background(), in)
		if !errors.Is(err, ErrMissingFrames) {
			t.Errorf("error = %v, want ErrMissingFrames", err)
		}
	})

	t.Run("empty output", func(t *testing.T) {
		r := &Reassembler{Binary: "ffmpeg", Runner: encodeRunner{payload: []byte{}}}
		in := testInputs(t, 2)
		_, err := r.Reassemble(context.Background(), in)
		if !errors.Is(err, ErrEncode) {
			t.Errorf("error = %v, want ErrEncode", err)
		}
		if _, statErr := os.Stat(in.Output); !os.IsNotExist(statErr) {
			t.Error("empty output must be removed")
		}
	})
}
