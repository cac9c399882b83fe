// Package config loads the core's configuration the way the teacher loads
// AppConfig: a typed struct with yaml tags, populated from an optional file
// and environment overrides via viper, then validated with validator/v10.
package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the cbird-core CLI and engine.
type Config struct {
	Index   IndexConfig   `yaml:"index" validate:"required"`
	Search  SearchConfig  `yaml:"search"`
	Workers WorkersConfig `yaml:"workers"`
	FFmpeg  FFmpegConfig  `yaml:"ffmpeg"`
	Log     LogConfig     `yaml:"log"`
}

type IndexConfig struct {
	// Dir is the index root directory (spec §6 "<index-root>/"). Overridable
	// by CBIRD_INDEX_DIR per spec §6; defaults to the working directory.
	Dir string `yaml:"dir" validate:"required" example:"."`
	// Name is the named index under Dir ("<index-root>/<idx-name>/").
	Name string `yaml:"name" validate:"required" example:"default"`
}

type SearchConfig struct {
	DctThreshold     int `yaml:"dct_threshold" mapstructure:"dct_threshold" validate:"min=0,max=64" example:"7"`
	MinFramesMatched int `yaml:"min_frames_matched" mapstructure:"min_frames_matched" validate:"min=0"`
	MinFramesNearPct int `yaml:"min_frames_near_percent" mapstructure:"min_frames_near_percent" validate:"min=0,max=100"`
	SkipFrames       int `yaml:"skip_frames" mapstructure:"skip_frames" validate:"min=0"`
}

type WorkersConfig struct {
	// Concurrency is the bounded worker pool size used by the query
	// orchestrator and the quality pipeline (spec §5); the template
	// matcher does not use the pool. 0 means "use runtime.NumCPU()".
	Concurrency int `yaml:"concurrency" validate:"min=0"`
}

type FFmpegConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path" mapstructure:"ffmpeg_path" example:"ffmpeg"`
	FFprobePath string `yaml:"ffprobe_path" mapstructure:"ffprobe_path" example:"ffprobe"`
}

type LogConfig struct {
	Level string `yaml:"level" example:"info"`
}

// Default returns the spec's documented defaults (§3 SearchParams
// defaults, §6 env vars).
func Default() Config {
	return Config{
		Index: IndexConfig{Dir: ".", Name: "default"},
		Search: SearchConfig{
			DctThreshold:     7,
			MinFramesMatched: 0,
			MinFramesNearPct: 0,
			SkipFrames:       0,
		},
		Workers: WorkersConfig{Concurrency: 0},
		FFmpeg:  FFmpegConfig{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from an optional YAML file at path (empty string
// skips the file) and environment variables prefixed CBIRD_, e.g.
// CBIRD_INDEX_DIR, CBIRD_WORKERS_CONCURRENCY, CBIRD_LOG_LEVEL.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("CBIRD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	bindDefaults(v, cfg)

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	// CBIRD_INDEX_DIR is the one env var spec §6 calls out explicitly by
	// name; honor it even when nested viper keys don't match.
	if dir := v.GetString("index_dir"); dir != "" {
		cfg.Index.Dir = dir
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("index.dir", cfg.Index.Dir)
	v.SetDefault("index.name", cfg.Index.Name)
	v.SetDefault("search.dct_threshold", cfg.Search.DctThreshold)
	v.SetDefault("search.min_frames_matched", cfg.Search.MinFramesMatched)
	v.SetDefault("search.min_frames_near_percent", cfg.Search.MinFramesNearPct)
	v.SetDefault("search.skip_frames", cfg.Search.SkipFrames)
	v.SetDefault("workers.concurrency", cfg.Workers.Concurrency)
	v.SetDefault("ffmpeg.ffmpeg_path", cfg.FFmpeg.FFmpegPath)
	v.SetDefault("ffmpeg.ffprobe_path", cfg.FFmpeg.FFprobePath)
	v.SetDefault("log.level", cfg.Log.Level)
}
