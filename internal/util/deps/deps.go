package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// findTool resolves a binary, honoring an explicit override first.
// The override may be a path or a name to look up in PATH.
func findTool(name, customPath string) (string, error) {
	if customPath != "" {
		if _, err := os.Stat(customPath); err == nil {
			return customPath, nil
		}
		if p, err := exec.LookPath(customPath); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("could not find %s at %q", name, customPath)
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("could not find %s in PATH. Please install %s.", name, name)
}

// FindFFmpeg returns the path to the ffmpeg binary.
func FindFFmpeg(customPath string) (string, error) {
	return findTool("ffmpeg", customPath)
}

// FindFFprobe returns the path to the ffprobe binary.
func FindFFprobe(customPath string) (string, error) {
	return findTool("ffprobe", customPath)
}

// FindUpscayl resolves the upscaling engine. Only doctor requires this to
// succeed up front; the pipeline lets a missing engine surface as a spawn
// failure on the first attempted frame.
func FindUpscayl(customPath string) (string, error) {
	return findTool("upscayl", customPath)
}

// DefaultModelDir returns the engine's standard model directory
// (~/.upscayl-cli/resources/models), or "" when the home dir is unknown.
func DefaultModelDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".upscayl-cli", "resources", "models")
}

// CheckModelDir verifies the model directory exists and is a directory.
func CheckModelDir(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("model directory %q not found", path)
	}
	if !st.IsDir() {
		return fmt.Errorf("model path %q is not a directory", path)
	}
	return nil
}
