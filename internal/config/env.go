// Package config provides centralized configuration management.
// All environment lookups happen here instead of scattered os.Getenv calls.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// AtelierEnv holds all atelier environment variables.
type AtelierEnv struct {
	// DataDir is where the task ledger, asset store and artifact
	// files live (ATELIER_DATA_DIR, default ~/.atelier)
	DataDir string

	// GoogleAPIKey authenticates against the generation provider
	// (GOOGLE_API_KEY)
	GoogleAPIKey string

	// ImageModel is the image generation model (ATELIER_IMAGE_MODEL)
	ImageModel string

	// VideoModel is the video generation model (ATELIER_VIDEO_MODEL)
	VideoModel string

	// VideoPollInterval is how often long-running video operations
	// are polled (ATELIER_VIDEO_POLL_SECONDS, default 5)
	VideoPollInterval time.Duration

	// MaxImageJobs bounds concurrent image generations
	// (ATELIER_MAX_IMAGE_JOBS, default 4)
	MaxImageJobs int

	// MaxVideoJobs bounds concurrent video generations
	// (ATELIER_MAX_VIDEO_JOBS, default 1; the provider enforces
	// single-flight for video)
	MaxVideoJobs int
}

var (
	env     *AtelierEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *AtelierEnv {
	envOnce.Do(func() {
		env = &AtelierEnv{
			DataDir:           getEnvDefault("ATELIER_DATA_DIR", defaultDataDir()),
			GoogleAPIKey:      os.Getenv("GOOGLE_API_KEY"),
			ImageModel:        getEnvDefault("ATELIER_IMAGE_MODEL", "gemini-2.0-flash-preview-image-generation"),
			VideoModel:        getEnvDefault("ATELIER_VIDEO_MODEL", "veo-2.0-generate-001"),
			VideoPollInterval: time.Duration(getEnvInt("ATELIER_VIDEO_POLL_SECONDS", 5)) * time.Second,
			MaxImageJobs:      getEnvInt("ATELIER_MAX_IMAGE_JOBS", 4),
			MaxVideoJobs:      getEnvInt("ATELIER_MAX_VIDEO_JOBS", 1),
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".atelier"
	}
	return filepath.Join(home, ".atelier")
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// AssetDir returns the directory artifact files are written to.
func (e *AtelierEnv) AssetDir() string {
	return filepath.Join(e.DataDir, "assets")
}

// DatabasePath returns the SQLite database path.
func (e *AtelierEnv) DatabasePath() string {
	return filepath.Join(e.DataDir, "atelier.db")
}
