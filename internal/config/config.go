package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API       APIConfig
	Storage   StorageConfig
	Pipeline  PipelineConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// StorageConfig describes the flat directory holding uploads and artifacts.
type StorageConfig struct {
	UploadDir         string
	AllowedExtensions []string
}

type PipelineConfig struct {
	JPEGQuality int
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	Enabled       bool
	Requests      int
	Window        time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type TracingConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:           env("PIXELFILTER_API_ADDR", ":8080"),
			MaxUploadBytes: envInt64("PIXELFILTER_MAX_UPLOAD_BYTES", 16<<20),
			ReadTimeout:    envDuration("PIXELFILTER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   envDuration("PIXELFILTER_WRITE_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			UploadDir:         env("PIXELFILTER_UPLOAD_DIR", "static/uploads"),
			AllowedExtensions: envList("PIXELFILTER_ALLOWED_EXTENSIONS", []string{"jpg", "jpeg", "png"}),
		},
		Pipeline: PipelineConfig{
			JPEGQuality: envInt("PIXELFILTER_JPEG_QUALITY", 95),
		},
		Log: LogConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", false),
			Requests:      envInt("RATE_LIMIT_REQUESTS", 30),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
		},
		Tracing: TracingConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "pixelfilter"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
		},
	}
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.API.Addr) == "" {
		errs = append(errs, errors.New("PIXELFILTER_API_ADDR must not be empty"))
	}
	if c.API.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("PIXELFILTER_MAX_UPLOAD_BYTES must be > 0 (got %d)", c.API.MaxUploadBytes))
	}
	if c.API.ReadTimeout <= 0 || c.API.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("timeouts must be > 0 (got read=%s, write=%s)", c.API.ReadTimeout, c.API.WriteTimeout))
	}
	if strings.TrimSpace(c.Storage.UploadDir) == "" {
		errs = append(errs, errors.New("PIXELFILTER_UPLOAD_DIR must not be empty"))
	}
	if len(c.Storage.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("PIXELFILTER_ALLOWED_EXTENSIONS must list at least one extension"))
	}
	if c.Pipeline.JPEGQuality < 1 || c.Pipeline.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("PIXELFILTER_JPEG_QUALITY must be within 1-100 (got %d)", c.Pipeline.JPEGQuality))
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Requests <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0 (got %d)", c.RateLimit.Requests))
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be > 0 (got %s)", c.RateLimit.Window))
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLER_RATIO must be within 0-1 (got %v)", c.Tracing.SampleRatio))
	}
	return errors.Join(errs...)
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func envInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	parsed, err := strconv.ParseInt(env(key, ""), 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(env(key, ""), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	parsed, err := strconv.ParseBool(env(key, ""))
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(env(key, ""))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// envList splits a comma separated value, lower-casing entries and dropping
// leading dots so ".PNG" and "png" mean the same extension.
func envList(key string, fallback []string) []string {
	value := env(key, "")
	if value == "" {
		return fallback
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(part), "."))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
