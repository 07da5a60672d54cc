package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig
	Gemini  GeminiConfig
	Storage StorageConfig
	Router  RouterConfig
	Tools   ToolsConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type StorageConfig struct {
	DataDir string
}

// RouterConfig bounds the outbound interpreter call. The retry loop never
// exceeds MaxAttempts, each attempt is cut off at AttemptTimeout, and the
// whole Route call is cut off at OverallDeadline.
type RouterConfig struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	OverallDeadline time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	HistoryWindow   int
}

// ToolsConfig carries the tool parameter bounds. They are policy knobs, not
// invariants: the registry is built from whatever is configured here.
type ToolsConfig struct {
	TopNMax           int
	TopNDefault       int
	MaxReviewsMin     int
	MaxReviewsMax     int
	MaxReviewsDefault int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash-lite",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Router: RouterConfig{
			MaxAttempts:     3,
			AttemptTimeout:  15 * time.Second,
			OverallDeadline: 45 * time.Second,
			InitialBackoff:  500 * time.Millisecond,
			MaxBackoff:      10 * time.Second,
			HistoryWindow:   6,
		},
		Tools: ToolsConfig{
			TopNMax:           50,
			TopNDefault:       15,
			MaxReviewsMin:     5,
			MaxReviewsMax:     200,
			MaxReviewsDefault: 30,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "revq")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".revq"
	}
	return filepath.Join(home, ".local", "share", "revq")
}

// Load reads configuration from defaults overridden by REVQ_* environment
// variables. The Gemini API key is required; everything else has a default.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. Set it via environment variable REVQ_GEMINI_API_KEY (or GEMINI_API_KEY)")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envInt("REVQ_SERVER_PORT", &cfg.Server.Port)
	envStr("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	envStr("REVQ_GEMINI_API_KEY", &cfg.Gemini.APIKey)
	envStr("REVQ_GEMINI_MODEL", &cfg.Gemini.Model)
	envStr("REVQ_DATA_DIR", &cfg.Storage.DataDir)
	envInt("REVQ_ROUTER_MAX_ATTEMPTS", &cfg.Router.MaxAttempts)
	envDur("REVQ_ROUTER_ATTEMPT_TIMEOUT", &cfg.Router.AttemptTimeout)
	envDur("REVQ_ROUTER_DEADLINE", &cfg.Router.OverallDeadline)
	envInt("REVQ_TOOLS_TOP_N_MAX", &cfg.Tools.TopNMax)
	envInt("REVQ_TOOLS_MAX_REVIEWS_MAX", &cfg.Tools.MaxReviewsMax)
	envStr("REVQ_LOG_LEVEL", &cfg.Log.Level)
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envDur(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
