// Package config handles platform configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
)

// OCR backends
const (
	OCRBackendRemote    = "remote"
	OCRBackendTesseract = "tesseract"
)

// Fingerprint modes
const (
	HashModeExact      = "exact"
	HashModePerceptual = "perceptual"
)

type Config struct {
	HTTPAddr      string
	InferenceAddr string
	LogLevel      string
	AutoStart     bool

	OCRBackend         string
	TesseractLanguages []string
	MinOCRConfidence   float64
	OCRCacheSize       int

	SourceLang           string
	TargetLang           string
	LanguagePairs        string // "en:es,es:en"; empty means the built-in table
	TranslationCacheSize int

	ProcessingInterval    time.Duration
	StopTimeout           time.Duration
	WindowMoveThreshold   int
	WindowResizeThreshold int

	DownsampleRate        int
	GridSize              int
	HashMode              string
	PerceptualMaxDistance int

	WindowX      int
	WindowY      int
	WindowWidth  int
	WindowHeight int

	RedisURL             string
	TranslationMemoryTTL time.Duration
}

// Load reads ENV_FILE (default .env) when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Wrap(err, apperrors.InvalidConfiguration, "load env file")
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8000"),
		InferenceAddr: getEnv("INFERENCE_ADDR", "localhost:50051"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AutoStart:     getEnvBool("AUTO_START", true),

		OCRBackend:         getEnv("OCR_BACKEND", OCRBackendRemote),
		TesseractLanguages: getEnvList("TESSERACT_LANGUAGES", []string{"eng", "spa"}),
		MinOCRConfidence:   getEnvFloat("MIN_OCR_CONFIDENCE", 0.5),
		OCRCacheSize:       getEnvInt("OCR_CACHE_SIZE", 1000),

		SourceLang:           getEnv("SOURCE_LANG", "es"),
		TargetLang:           getEnv("TARGET_LANG", "en"),
		LanguagePairs:        getEnv("LANGUAGE_PAIRS", ""),
		TranslationCacheSize: getEnvInt("TRANSLATION_CACHE_SIZE", 5000),

		ProcessingInterval:    getEnvSeconds("PROCESSING_INTERVAL", time.Second),
		StopTimeout:           getEnvSeconds("STOP_TIMEOUT", 2*time.Second),
		WindowMoveThreshold:   getEnvInt("WINDOW_MOVE_THRESHOLD", 50),
		WindowResizeThreshold: getEnvInt("WINDOW_RESIZE_THRESHOLD", 10),

		DownsampleRate:        getEnvInt("DOWNSAMPLE_RATE", 4),
		GridSize:              getEnvInt("GRID_SIZE", 50),
		HashMode:              getEnv("HASH_MODE", HashModeExact),
		PerceptualMaxDistance: getEnvInt("PERCEPTUAL_MAX_DISTANCE", 5),

		WindowX:      getEnvInt("WINDOW_X", 100),
		WindowY:      getEnvInt("WINDOW_Y", 100),
		WindowWidth:  getEnvInt("WINDOW_WIDTH", 800),
		WindowHeight: getEnvInt("WINDOW_HEIGHT", 600),

		RedisURL:             getEnv("REDIS_URL", ""),
		TranslationMemoryTTL: getEnvSeconds("TRANSLATION_MEMORY_TTL", 24*time.Hour),
	}
}

// Validate reports the first invalid setting as InvalidConfiguration.
func (c *Config) Validate() error {
	invalid := func(key string, v any) error {
		return apperrors.Newf(apperrors.InvalidConfiguration, "%s must be positive", key).
			WithMetadata("key", key).
			WithMetadata("value", fmt.Sprint(v))
	}
	switch {
	case c.ProcessingInterval <= 0:
		return invalid("PROCESSING_INTERVAL", c.ProcessingInterval)
	case c.StopTimeout <= 0:
		return invalid("STOP_TIMEOUT", c.StopTimeout)
	case c.OCRCacheSize <= 0:
		return invalid("OCR_CACHE_SIZE", c.OCRCacheSize)
	case c.TranslationCacheSize <= 0:
		return invalid("TRANSLATION_CACHE_SIZE", c.TranslationCacheSize)
	case c.DownsampleRate <= 0:
		return invalid("DOWNSAMPLE_RATE", c.DownsampleRate)
	case c.GridSize <= 0:
		return invalid("GRID_SIZE", c.GridSize)
	case c.WindowWidth <= 0:
		return invalid("WINDOW_WIDTH", c.WindowWidth)
	case c.WindowHeight <= 0:
		return invalid("WINDOW_HEIGHT", c.WindowHeight)
	case c.WindowMoveThreshold < 0:
		return apperrors.New(apperrors.InvalidConfiguration, "WINDOW_MOVE_THRESHOLD must not be negative")
	case c.WindowResizeThreshold < 0:
		return apperrors.New(apperrors.InvalidConfiguration, "WINDOW_RESIZE_THRESHOLD must not be negative")
	case c.PerceptualMaxDistance < 0:
		return apperrors.New(apperrors.InvalidConfiguration, "PERCEPTUAL_MAX_DISTANCE must not be negative")
	case c.MinOCRConfidence < 0 || c.MinOCRConfidence > 1:
		return apperrors.Newf(apperrors.InvalidConfiguration, "MIN_OCR_CONFIDENCE %v is outside [0, 1]", c.MinOCRConfidence)
	}
	if c.HashMode != HashModeExact && c.HashMode != HashModePerceptual {
		return apperrors.Newf(apperrors.InvalidConfiguration, "unknown HASH_MODE %q", c.HashMode)
	}
	if c.OCRBackend != OCRBackendRemote && c.OCRBackend != OCRBackendTesseract {
		return apperrors.Newf(apperrors.InvalidConfiguration, "unknown OCR_BACKEND %q", c.OCRBackend)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvSeconds accepts fractional seconds ("0.5") or a Go duration ("500ms").
func getEnvSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
