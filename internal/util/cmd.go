package util

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Failure classes for subprocess execution. Callers wrap these with stage
// context and match with errors.Is.
var (
	// ErrSpawn means the child never started: binary missing, not
	// executable, or fork/exec failed.
	ErrSpawn = errors.New("spawn failed")
	// ErrTimeout means the per-command deadline fired and the child was
	// force-terminated.
	ErrTimeout = errors.New("command timed out")
)

// CmdSpec describes a subprocess to run.
type CmdSpec struct {
	Path    string        // Binary path or name resolved via PATH
	Args    []string      // Arguments
	Env     []string      // Optional environment variables (KEY=VALUE). If nil, inherit.
	Dir     string        // Working directory; empty = inherit.
	Timeout time.Duration // Per-command deadline; 0 = none.
	Verbose bool          // Stream stdout/stderr while capturing

	StdoutLine    func(string) // Called for each stdout line (if non-nil)
	StderrLine    func(string) // Called for each stderr line (if non-nil)
	CaptureStdout bool         // When false, do not buffer stdout into CmdResult (still invoke StdoutLine)
}

// CmdResult contains captured output, exit status and wall-clock timing.
// Output is retained regardless of outcome so failures can surface the
// tool's own diagnostics.
type CmdResult struct {
	Stdout  []byte
	Stderr  []byte
	Code    int
	Elapsed time.Duration
	Err     error
}

// Runner abstracts subprocess execution so pipeline stages can be tested
// without ffmpeg, ffprobe or the upscaling engine installed.
type Runner interface {
	Run(ctx context.Context, spec CmdSpec) (CmdResult, error)
}

type execRunner struct{}

// NewRunner returns the Runner backed by os/exec.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, spec CmdSpec) (CmdResult, error) {
	return Run(ctx, spec)
}

// Run executes the command, optionally streaming output if Verbose is true.
// It always captures stderr. Stdout capture can be disabled with
// CaptureStdout=false. The child is force-terminated when ctx is cancelled
// or when Timeout elapses; the returned error distinguishes spawn failure,
// timeout, interruption and nonzero exit, while CmdResult keeps the captured
// buffers in every case.
func Run(parent context.Context, spec CmdSpec) (CmdResult, error) {
	ctx := parent
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, spec.Timeout)
		defer cancel()
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return CmdResult{Code: -1, Err: err}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return CmdResult{Code: -1, Err: err}, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	if spec.Verbose {
		// Print the command line before execution
		fmt.Fprintf(os.Stderr, "+ %s\n", shellQuote(spec.Path, spec.Args))
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return CmdResult{Code: -1, Err: err, Elapsed: time.Since(start)},
			fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// stdout reader goroutine
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdoutPipe)
		// Default scanner buffer is 64KB; ffprobe JSON for files with many
		// streams can exceed it.
		const maxCapacity = 1024 * 1024 // 1 MB
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, maxCapacity)
		for sc.Scan() {
			line := sc.Text()
			// Invoke callback first so real-time consumers see it
			if spec.StdoutLine != nil {
				spec.StdoutLine(line)
			}
			if spec.Verbose {
				fmt.Fprintln(os.Stdout, line)
			}
			if spec.CaptureStdout || spec.StdoutLine == nil {
				stdoutBuf.WriteString(line)
				stdoutBuf.WriteByte('\n')
			}
		}
		if err := sc.Err(); err != nil {
			if spec.Verbose {
				fmt.Fprintf(os.Stderr, "stdout scan error: %v\n", err)
			}
		}
	}()

	// stderr reader goroutine
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderrPipe)
		const maxCapacity = 1024 * 1024 // 1 MB
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, maxCapacity)
		for sc.Scan() {
			line := sc.Text()
			if spec.StderrLine != nil {
				spec.StderrLine(line)
			}
			if spec.Verbose {
				fmt.Fprintln(os.Stderr, line)
			}
			// Always capture stderr
			stderrBuf.WriteString(line)
			stderrBuf.WriteByte('\n')
		}
		if err := sc.Err(); err != nil {
			if spec.Verbose {
				fmt.Fprintf(os.Stderr, "stderr scan error: %v\n", err)
			}
		}
	}()

	waitErr := cmd.Wait()
	// Ensure readers drain remaining data
	wg.Wait()

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	res := CmdResult{
		Stdout:  stdoutBuf.Bytes(),
		Stderr:  stderrBuf.Bytes(),
		Code:    code,
		Elapsed: time.Since(start),
		Err:     waitErr,
	}

	switch {
	case waitErr == nil:
		return res, nil
	case parent.Err() != nil:
		return res, fmt.Errorf("command interrupted: %w", parent.Err())
	case ctx.Err() == context.DeadlineExceeded:
		return res, fmt.Errorf("%w after %s", ErrTimeout, spec.Timeout)
	default:
		return res, fmt.Errorf("command failed (exit %d): %w", code, waitErr)
	}
}

// TailLines returns the last n non-empty lines of captured output, joined
// with newlines. Tool failures embed this so errors carry the diagnostic
// without dumping whole logs.
func TailLines(b []byte, n int) string {
	if len(b) == 0 || n <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	kept := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(kept) < n; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			continue
		}
		kept = append(kept, lines[i])
	}
	// reverse back to original order
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return strings.Join(kept, "\n")
}

// shellQuote returns a printable shell-like command string for logging.
func shellQuote(path string, args []string) string {
	b := &strings.Builder{}
	b.WriteString(quote(path))
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	return b.String()
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	// Simple quoting: wrap in single quotes and escape existing single quotes.
	if strings.ContainsAny(s, " \t\n\"'\\$`(){}[]*&;|<>?!") {
		return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
	}
	return s
}
