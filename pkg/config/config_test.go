package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, 75.0, cfg.Enrollment.MinAttendancePercentage)
	assert.True(t, cfg.Enrollment.GenerateInvoice)
	assert.Equal(t, 5, cfg.Students.MinAge)
	assert.Equal(t, "STU", cfg.Students.CodePrefix)
	assert.Equal(t, 5*time.Minute, cfg.Stats.CacheTTL)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENROLLMENT_MIN_ATTENDANCE", "80")
	t.Setenv("ENROLLMENT_GENERATE_INVOICE", "false")
	t.Setenv("STATS_CACHE_TTL", "bogus")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 80.0, cfg.Enrollment.MinAttendancePercentage)
	assert.False(t, cfg.Enrollment.GenerateInvoice)
	assert.Equal(t, 5*time.Minute, cfg.Stats.CacheTTL)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a , ,b "))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
