package ffmpeg

import (
	"strconv"
	"strings"

	"upscalevid/internal/progress"
)

// ProgressState accumulates key/value lines from ffmpeg's `-progress pipe:1`
// output and produces a percent update each time a "progress" marker line
// arrives. Extraction and reassembly both feed it, so the stage and message
// are fixed at construction.
type ProgressState struct {
	JobID       string
	Stage       progress.Stage
	Message     string
	DurationSec float64

	outTimeMs int64
	speedStr  string
	totalSize int64
}

// UpdateFromLine consumes one progress line, updating internal state.
// ok is true only on "progress=" marker lines, when an Update is emitted.
func (ps *ProgressState) UpdateFromLine(line string) (u progress.Update, ok bool) {
	kv := strings.SplitN(line, "=", 2)
	if len(kv) != 2 {
		return progress.Update{}, false
	}

	key := strings.TrimSpace(kv[0])
	val := strings.TrimSpace(kv[1])

	switch key {
	case "out_time_ms":
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			ps.outTimeMs = v
		}
	case "speed":
		ps.speedStr = val
	case "total_size":
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			ps.totalSize = v
		}
	case "progress":
		percent := -1.0
		if ps.DurationSec > 0 {
			den := ps.DurationSec * 1_000_000 // out_time_ms counts microseconds
			percent = (float64(ps.outTimeMs) / den) * 100.0
			if percent > 100 {
				percent = 100
			}
		}
		if val == "end" {
			percent = 100
		}

		var speedPtr *string
		if ps.speedStr != "" {
			s := ps.speedStr
			speedPtr = &s
		}

		var bytesPtr *int64
		if ps.totalSize > 0 {
			b := ps.totalSize
			bytesPtr = &b
		}

		return progress.Update{
			JobID:   ps.JobID,
			Stage:   ps.Stage,
			Percent: percent,
			Speed:   speedPtr,
			Bytes:   bytesPtr,
			Message: ps.Message,
		}, true
	}

	return progress.Update{}, false
}
