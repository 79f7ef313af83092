package media

import (
	"path/filepath"
	"strings"

	"upscalevid/internal/model"
)

// OutputPath derives where the upscaled video lands. An explicit path wins
// as given; otherwise the name is <input-stem>_upscaled.<ext> next to the
// input, where the extension follows the input when it maps to a supported
// container and falls back to .mp4 otherwise (the encode is always HEVC).
// The returned Container drives codec tagging during reassembly.
func OutputPath(input, explicit string) (string, model.Container, error) {
	if explicit != "" {
		c, err := model.ParseContainer(filepath.Ext(explicit))
		if err != nil {
			return "", "", err
		}
		return explicit, c, nil
	}
	ext := filepath.Ext(input)
	c, err := model.ParseContainer(ext)
	if err != nil {
		c = model.ContainerMP4
		ext = c.Ext()
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + "_upscaled" + ext, c, nil
}
