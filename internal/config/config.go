package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"langsam-server/internal/core/domain"
)

type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Backend BackendConfig
	Logger  LoggerConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	MaxUploadMB     int64
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration
}

// MaxUploadBytes returns the request body limit, or 0 for unlimited.
func (c ServerConfig) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 0
	}
	return c.MaxUploadMB << 20
}

type ModelConfig struct {
	DefaultType    string
	AllowSwitch    bool
	AllowedTypes   []string
	BuildTimeout   time.Duration
	MaxImagePixels int64 // width*height cap for uploads, 0 disables
}

// BackendConfig points at the LangSAM runtime worker that owns the model.
type BackendConfig struct {
	URL     string
	Timeout time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
	File   string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8000)
	v.SetDefault("SERVER_MAX_UPLOAD_MB", 32)
	v.SetDefault("SERVER_RATE_LIMIT_RPS", 0)
	v.SetDefault("SERVER_RATE_LIMIT_BURST", 10)
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("MODEL_DEFAULT_TYPE", domain.DefaultVariant)
	v.SetDefault("MODEL_ALLOW_SWITCH", true)
	v.SetDefault("MODEL_ALLOWED_TYPES", strings.Join(domain.KnownVariants, ","))
	v.SetDefault("MODEL_BUILD_TIMEOUT", "5m")
	v.SetDefault("MODEL_MAX_IMAGE_PIXELS", domain.DefaultMaxImagePixels)
	v.SetDefault("BACKEND_URL", "http://localhost:8001")
	v.SetDefault("BACKEND_TIMEOUT", "120s")
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")
	v.SetDefault("LOGGER_FILE", "")

	// Env
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			MaxUploadMB:     v.GetInt64("SERVER_MAX_UPLOAD_MB"),
			RateLimitRPS:    v.GetFloat64("SERVER_RATE_LIMIT_RPS"),
			RateLimitBurst:  v.GetInt("SERVER_RATE_LIMIT_BURST"),
			ShutdownTimeout: parseDuration(v.GetString("SERVER_SHUTDOWN_TIMEOUT"), 10*time.Second),
		},
		Model: ModelConfig{
			DefaultType:    v.GetString("MODEL_DEFAULT_TYPE"),
			AllowSwitch:    v.GetBool("MODEL_ALLOW_SWITCH"),
			AllowedTypes:   splitList(v.GetString("MODEL_ALLOWED_TYPES")),
			BuildTimeout:   parseDuration(v.GetString("MODEL_BUILD_TIMEOUT"), 5*time.Minute),
			MaxImagePixels: v.GetInt64("MODEL_MAX_IMAGE_PIXELS"),
		},
		Backend: BackendConfig{
			URL:     strings.TrimRight(v.GetString("BACKEND_URL"), "/"),
			Timeout: parseDuration(v.GetString("BACKEND_TIMEOUT"), 120*time.Second),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
			File:   v.GetString("LOGGER_FILE"),
		},
	}

	if cfg.Model.DefaultType == "" {
		return nil, errors.New("MODEL_DEFAULT_TYPE must not be empty")
	}

	return cfg, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// splitList turns "a, b,,c" into [a b c].
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
