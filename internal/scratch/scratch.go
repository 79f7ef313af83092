package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"upscalevid/internal/util"
)

// ErrResource marks failures to set up or own the scratch area.
var ErrResource = errors.New("scratch directory unavailable")

// Dir is the per-job scratch area:
//
//	<tmp>/upscalevid/job-<id>/
//	    frames/    extracted source frames
//	    upscaled/  engine output frames
//	    .lock      advisory lock held for the job's lifetime
//
// The lock makes ownership explicit: nothing else may write into a live
// job directory, and stale trees from crashed runs can be detected.
type Dir struct {
	Root     string
	Frames   string
	Upscaled string

	keep bool
	lock *flock.Flock
}

// Acquire creates the scratch layout for a job and takes an exclusive
// advisory lock on it. keep controls whether Release removes the tree.
func Acquire(jobID string, keep bool) (*Dir, error) {
	base := filepath.Join(os.TempDir(), "upscalevid")
	if err := util.EnsureDir(base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}
	root := filepath.Join(base, "job-"+jobID)
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}

	lock := flock.New(filepath.Join(root, ".lock"))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		_ = os.RemoveAll(root)
		if err == nil {
			err = errors.New("already held")
		}
		return nil, fmt.Errorf("%w: lock %s: %v", ErrResource, root, err)
	}

	d := &Dir{
		Root:     root,
		Frames:   filepath.Join(root, "frames"),
		Upscaled: filepath.Join(root, "upscaled"),
		keep:     keep,
		lock:     lock,
	}
	for _, p := range []string{d.Frames, d.Upscaled} {
		if err := util.EnsureDir(p); err != nil {
			_ = lock.Unlock()
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("%w: %v", ErrResource, err)
		}
	}
	return d, nil
}

// Release unlocks the directory and removes the whole tree unless keep was
// requested. It is safe to call more than once, so callers can defer it and
// still release explicitly on early exits.
func (d *Dir) Release() error {
	if d == nil {
		return nil
	}
	if d.lock != nil {
		_ = d.lock.Unlock()
		d.lock = nil
	}
	if d.keep {
		return nil
	}
	return os.RemoveAll(d.Root)
}

// Kept reports whether the tree outlives the job.
func (d *Dir) Kept() bool { return d.keep }
