package config

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"upscalevid/internal/dirs"
	"upscalevid/internal/util/deps"
)

// Init wires Viper with config paths, env, defaults, and flag bindings.
// It is non-fatal: any errors are returned for optional handling by caller.
func Init(root *cobra.Command) error {
	// Setup config search path
	if cfgDir, err := dirs.ConfigDir(); err == nil {
		_ = dirs.Ensure(cfgDir)
		viper.AddConfigPath(cfgDir)
	}
	viper.SetConfigName("config") // supports config.{yaml|yml|json|toml}

	// Environment variables: UPSCALEVID_*
	viper.SetEnvPrefix("UPSCALEVID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Defaults for every key, so env and config values layer under flags.
	viper.SetDefault("scale", 4)
	viper.SetDefault("model", "upscayl-standard-4x")
	viper.SetDefault("model_path", deps.DefaultModelDir())
	viper.SetDefault("workers", 1)
	viper.SetDefault("output", "")
	viper.SetDefault("keep_frames", false)
	viper.SetDefault("frame_timeout", "10m")
	viper.SetDefault("gpu_id", "")
	viper.SetDefault("tile_size", 0)
	viper.SetDefault("tta", false)
	viper.SetDefault("no_ui", false)
	viper.SetDefault("upscayl_binary", "")
	viper.SetDefault("ffmpeg_binary", "")
	viper.SetDefault("ffprobe_binary", "")

	// Bind root persistent flags to Viper keys. Persistent flag storage is
	// shared with subcommands, so these bindings see changes from any of
	// them; run-level flags are resolved per command instead.
	_ = viper.BindPFlag("verbose", root.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("workers", root.PersistentFlags().Lookup("workers"))
	_ = viper.BindPFlag("model_path", root.PersistentFlags().Lookup("model-path"))
	_ = viper.BindPFlag("upscayl_binary", root.PersistentFlags().Lookup("upscayl-binary"))
	_ = viper.BindPFlag("ffmpeg_binary", root.PersistentFlags().Lookup("ffmpeg-binary"))
	_ = viper.BindPFlag("ffprobe_binary", root.PersistentFlags().Lookup("ffprobe-binary"))

	// Read config file if present (ignore not found)
	_ = viper.ReadInConfig()

	return nil
}
