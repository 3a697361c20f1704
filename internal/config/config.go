package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"neuroface-id/pkg/models"
	"neuroface-id/pkg/validation"
)

// Analysis backends
const (
	BackendLocal  = "local"
	BackendGemini = "gemini"
)

// Preview store backends
const (
	PreviewStoreMemory = "memory"
	PreviewStoreAzure  = "azure"
	PreviewStoreRedis  = "redis"
)

// Trigger modes
const (
	TriggerExplicit = "explicit"
	TriggerAuto     = "auto"
)

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	// Analysis client
	AnalysisBackend      string
	AnalyzeEndpoint      string
	AnalyzeAllowedHosts  []string
	AnalysisTimeout      time.Duration
	AnalysisMaxAttempts  int
	AnalysisRetryBackoff time.Duration
	GeminiAPIKey         string
	GeminiModel          string

	// Session
	TriggerMode  string
	DefaultModel models.Architecture

	// Camera and capture
	CameraDevice        int
	CameraRearDevice    int
	CameraWidth         int
	CameraHeight        int
	CaptureQuality      int
	CaptureFlashDelay   time.Duration
	CaptureMaxDimension int
	PreviewFPS          int

	// Preview storage
	PreviewStore          string
	PreviewTTL            time.Duration
	AzureStorageAccount   string
	AzureStorageKey       string
	AzurePreviewContainer string
	RedisAddr             string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 10*1024*1024), // 10MB
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),

		AnalysisBackend:      strings.ToLower(getEnvOrDefault("ANALYSIS_BACKEND", BackendLocal)),
		AnalyzeEndpoint:      getEnvOrDefault("ANALYZE_ENDPOINT", "http://localhost:5000/api/analyze"),
		AnalyzeAllowedHosts:  validation.ParseHostList(os.Getenv("ANALYZE_ALLOWED_HOSTS")),
		AnalysisTimeout:      parseDurationOrDefault("ANALYSIS_TIMEOUT", 20*time.Second),
		AnalysisMaxAttempts:  int(parseIntOrDefault("ANALYSIS_MAX_ATTEMPTS", 2)),
		AnalysisRetryBackoff: parseDurationOrDefault("ANALYSIS_RETRY_BACKOFF", 500*time.Millisecond),
		GeminiAPIKey:         firstEnv("API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),

		TriggerMode: strings.ToLower(getEnvOrDefault("TRIGGER_MODE", TriggerExplicit)),

		CameraDevice:        int(parseIntOrDefault("CAMERA_DEVICE", 0)),
		CameraWidth:         int(parseIntOrDefault("CAMERA_WIDTH", 1280)),
		CameraHeight:        int(parseIntOrDefault("CAMERA_HEIGHT", 720)),
		CaptureQuality:      int(parseIntOrDefault("CAPTURE_QUALITY", 95)),
		CaptureFlashDelay:   parseDurationOrDefault("CAPTURE_FLASH_DELAY", 100*time.Millisecond),
		CaptureMaxDimension: int(parseIntOrDefault("CAPTURE_MAX_DIMENSION", 0)),
		PreviewFPS:          int(parseIntOrDefault("PREVIEW_FPS", 15)),

		PreviewStore:          strings.ToLower(getEnvOrDefault("PREVIEW_STORE", PreviewStoreMemory)),
		PreviewTTL:            parseDurationOrDefault("PREVIEW_TTL", 30*time.Minute),
		AzureStorageAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureStorageKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzurePreviewContainer: getEnvOrDefault("AZURE_PREVIEW_CONTAINER", "previews"),
		RedisAddr:             getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
	}
	cfg.CameraRearDevice = int(parseIntOrDefault("CAMERA_REAR_DEVICE", int64(cfg.CameraDevice)))

	model, err := models.ParseArchitecture(getEnvOrDefault("DEFAULT_MODEL", string(models.ArchitectureViT)))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_MODEL: %w", err)
	}
	cfg.DefaultModel = model

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.AnalysisTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, analysis=%s)",
			c.RequestTimeout, c.AnalysisTimeout)
	}
	if c.AnalysisMaxAttempts < 1 {
		return fmt.Errorf("ANALYSIS_MAX_ATTEMPTS must be >= 1 (got %d)", c.AnalysisMaxAttempts)
	}

	switch c.AnalysisBackend {
	case BackendLocal:
		if err := validation.NewEndpointValidator(c.AnalyzeAllowedHosts...).Validate(c.AnalyzeEndpoint); err != nil {
			return fmt.Errorf("invalid ANALYZE_ENDPOINT %q: %w", c.AnalyzeEndpoint, err)
		}
	case BackendGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("gemini backend requires API_KEY, GEMINI_API_KEY or GOOGLE_API_KEY")
		}
	default:
		return fmt.Errorf("unsupported ANALYSIS_BACKEND: %q", c.AnalysisBackend)
	}

	switch c.TriggerMode {
	case TriggerExplicit, TriggerAuto:
	default:
		return fmt.Errorf("unsupported TRIGGER_MODE: %q", c.TriggerMode)
	}

	if c.CaptureQuality < 1 || c.CaptureQuality > 100 {
		return fmt.Errorf("CAPTURE_QUALITY must be within 1..100 (got %d)", c.CaptureQuality)
	}
	if c.CaptureMaxDimension < 0 {
		return fmt.Errorf("CAPTURE_MAX_DIMENSION must be >= 0 (got %d)", c.CaptureMaxDimension)
	}
	if c.PreviewFPS < 1 {
		return fmt.Errorf("PREVIEW_FPS must be >= 1 (got %d)", c.PreviewFPS)
	}

	switch c.PreviewStore {
	case PreviewStoreMemory, PreviewStoreRedis:
	case PreviewStoreAzure:
		if c.AzureStorageAccount == "" || c.AzureStorageKey == "" {
			return fmt.Errorf("azure preview store requires AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
		}
	default:
		return fmt.Errorf("unsupported PREVIEW_STORE: %q", c.PreviewStore)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
