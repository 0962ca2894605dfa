// Package config loads ytclipper settings from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/ytclipper/internal/ports/adapters/heatmap"
	"github.com/forPelevin/ytclipper/internal/ports/adapters/llm"
)

// EnvConfigPath names the optional YAML file.
const EnvConfigPath = "YTCLIPPER_CONFIG"

type Config struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	ResultsDir string `yaml:"results_dir"`
	Cookies    string `yaml:"cookies"`
	FFmpegPath string `yaml:"ffmpeg_path"`
	YTDLPPath  string `yaml:"ytdlp_path"`
	HeatmapURL string `yaml:"heatmap_url"`

	Listen  string        `yaml:"listen"`
	MaxJobs int           `yaml:"max_jobs"`
	JobTTL  time.Duration `yaml:"job_ttl"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Providers []llm.Provider `yaml:"providers"`
}

func Default() Config {
	return Config{
		Model:      llm.DefaultModel,
		ResultsDir: "results",
		Cookies:    "cookies.txt",
		HeatmapURL: heatmap.DefaultBaseURL,
		Listen:     "127.0.0.1:5000",
		MaxJobs:    2,
		JobTTL:     time.Hour,
		LogLevel:   "info",
		LogFormat:  "text",
		Providers:  llm.DefaultProviders(),
	}
}

// Load builds the configuration: defaults, then environment variables, then
// the YAML file named by path (or $YTCLIPPER_CONFIG). ${VAR} references in
// the file are expanded before parsing.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if err := applyEnv(&cfg, getenv); err != nil {
		return cfg, err
	}

	if path == "" {
		path = strings.TrimSpace(getenv(EnvConfigPath))
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.Expand(string(data), getenv)
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("KIE_API_KEY", &cfg.APIKey)
	str("YTCLIPPER_MODEL", &cfg.Model)
	str("YTCLIPPER_RESULTS_DIR", &cfg.ResultsDir)
	str("YTCLIPPER_COOKIES", &cfg.Cookies)
	str("FFMPEG_PATH", &cfg.FFmpegPath)
	str("YTDLP_PATH", &cfg.YTDLPPath)
	str("YTCLIPPER_HEATMAP_URL", &cfg.HeatmapURL)
	str("YTCLIPPER_LISTEN", &cfg.Listen)
	str("YTCLIPPER_LOG_LEVEL", &cfg.LogLevel)
	str("YTCLIPPER_LOG_FORMAT", &cfg.LogFormat)

	if v := strings.TrimSpace(getenv("YTCLIPPER_MAX_JOBS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("YTCLIPPER_MAX_JOBS: %w", err)
		}
		cfg.MaxJobs = n
	}
	if v := strings.TrimSpace(getenv("YTCLIPPER_JOB_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("YTCLIPPER_JOB_TTL: %w", err)
		}
		cfg.JobTTL = d
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (valid: text, json)", c.LogFormat)
	}
	if c.MaxJobs <= 0 {
		return errors.New("max_jobs must be > 0")
	}
	if c.JobTTL <= 0 {
		return errors.New("job_ttl must be > 0")
	}
	if strings.TrimSpace(c.ResultsDir) == "" {
		return errors.New("results_dir is empty")
	}
	return llm.ValidateProviders(c.Providers)
}
