package model

import (
	"fmt"
	"strings"
	"time"
)

// ScaleFactor is the integer amplification applied to every frame.
// Only 2, 3 and 4 are valid; anything else is rejected at parse time.
type ScaleFactor int

const (
	Scale2 ScaleFactor = 2
	Scale3 ScaleFactor = 3
	Scale4 ScaleFactor = 4
)

// ParseScale validates a user-supplied scale value.
func ParseScale(n int) (ScaleFactor, error) {
	switch n {
	case 2, 3, 4:
		return ScaleFactor(n), nil
	default:
		return 0, fmt.Errorf("invalid scale %d (must be 2, 3 or 4)", n)
	}
}

// Container is the output container format. The encode is always HEVC, so
// the set is restricted to containers that can carry it.
type Container string

const (
	ContainerMP4 Container = "mp4"
	ContainerMKV Container = "mkv"
	ContainerMOV Container = "mov"
)

// ParseContainer maps a file extension (with or without the leading dot)
// to a Container.
func ParseContainer(ext string) (Container, error) {
	e := strings.ToLower(strings.TrimPrefix(ext, "."))
	switch e {
	case "mp4", "m4v":
		return ContainerMP4, nil
	case "mkv":
		return ContainerMKV, nil
	case "mov":
		return ContainerMOV, nil
	default:
		return "", fmt.Errorf("unsupported output container %q (use mp4, mkv or mov)", ext)
	}
}

// Ext returns the container's file extension including the dot.
func (c Container) Ext() string { return "." + string(c) }

// NeedsHVC1 reports whether the container wants the hvc1 sample entry tag
// so HEVC plays in Apple players and browsers.
func (c Container) NeedsHVC1() bool { return c == ContainerMP4 || c == ContainerMOV }

// TaskState tracks a FrameTask through Pending → Running → Done|Failed.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskDone
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameTask is one frame's unit of work. Index is zero-based and matches
// decode order; Input is the extracted frame, Output where the upscaled
// frame must land. The worker pool owns the task until it reaches a
// terminal state; Err carries the diagnostic for failed tasks.
type FrameTask struct {
	Index  int
	Input  string
	Output string
	State  TaskState
	Err    error
}

// VideoSpec is the immutable description of the input produced by probing.
type VideoSpec struct {
	Path        string
	Width       int
	Height      int
	FPS         float64 // decimal value of FPSRaw
	FPSRaw      string  // r_frame_rate exactly as reported, e.g. "30000/1001"
	DurationSec float64
	FrameCount  int // declared or estimated; 0 when unknown until extraction
	HasAudio    bool
}

// TargetSize returns the output dimensions for a given scale.
func (v VideoSpec) TargetSize(s ScaleFactor) (w, h int) {
	return v.Width * int(s), v.Height * int(s)
}

// Options holds user-configurable runtime options as parsed from flags,
// environment and config file. They are fixed before a job is built.
type Options struct {
	Scale        ScaleFactor
	Model        string
	ModelPath    string
	Workers      int
	OutputPath   string // empty = derive from the input name
	KeepFrames   bool
	Verbose      bool
	FrameTimeout time.Duration // per-frame engine deadline; 0 = none

	// Engine passthrough.
	GPUID    string
	TileSize int
	TTA      bool

	// Tool overrides; empty = resolve from PATH.
	UpscaylBinary string
	FFmpegBinary  string
	FFprobeBinary string

	NoUI   bool
	DryRun bool
}

// Job is a single pipeline invocation: the configuration snapshot is
// immutable after construction; Spec, ScratchDir and Tasks are filled in
// as stages complete. A Job is the unit of cancellation and reporting.
type Job struct {
	ID         string
	Input      string
	Output     string
	Container  Container
	Opts       Options
	Spec       VideoSpec
	ScratchDir string
	Tasks      []*FrameTask
}
