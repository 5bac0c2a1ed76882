package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvDefaults(t *testing.T) {
	ResetEnv()
	t.Setenv("ATELIER_DATA_DIR", "")
	t.Setenv("ATELIER_MAX_IMAGE_JOBS", "")
	t.Setenv("ATELIER_MAX_VIDEO_JOBS", "")
	t.Setenv("ATELIER_VIDEO_POLL_SECONDS", "")

	e := Env()
	assert.Equal(t, 4, e.MaxImageJobs)
	assert.Equal(t, 1, e.MaxVideoJobs)
	assert.Equal(t, 5*time.Second, e.VideoPollInterval)
	assert.NotEmpty(t, e.DataDir)
}

func TestEnvOverrides(t *testing.T) {
	ResetEnv()
	t.Setenv("ATELIER_DATA_DIR", "/tmp/atelier-test")
	t.Setenv("ATELIER_MAX_IMAGE_JOBS", "8")
	t.Setenv("ATELIER_VIDEO_POLL_SECONDS", "2")

	e := Env()
	assert.Equal(t, "/tmp/atelier-test", e.DataDir)
	assert.Equal(t, 8, e.MaxImageJobs)
	assert.Equal(t, 2*time.Second, e.VideoPollInterval)
	assert.Equal(t, "/tmp/atelier-test/atelier.db", e.DatabasePath())
}

func TestEnvIgnoresInvalidInt(t *testing.T) {
	ResetEnv()
	t.Setenv("ATELIER_MAX_IMAGE_JOBS", "not-a-number")

	assert.Equal(t, 4, Env().MaxImageJobs)
}

func TestEnvCached(t *testing.T) {
	ResetEnv()
	t.Setenv("ATELIER_MAX_IMAGE_JOBS", "6")
	first := Env()

	t.Setenv("ATELIER_MAX_IMAGE_JOBS", "9")
	assert.Same(t, first, Env())
	assert.Equal(t, 6, Env().MaxImageJobs)
}
