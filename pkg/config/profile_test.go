package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadProfileDefaults(t *testing.T) {
	p, err := LoadProfile("")
	require.NoError(t, err)
	require.Equal(t, "default", p.Name)
	require.Equal(t, 60, p.Engine.AssumptionPenaltyCap)
	require.Equal(t, 0.7, p.Engine.AssumptionHardFailRatio)
	require.Equal(t, 30, p.Engine.ExpiryGraceDays)
	require.Equal(t, 30, p.Engine.ReviewDecayIntervalDays)
	require.Equal(t, 4, p.Scheduler.Workers)
	require.Equal(t, 100, p.Scheduler.BatchLimit)
}

func TestLoadProfileOverrides(t *testing.T) {
	path := writeProfile(t, `
name: staging
engine:
  assumption_penalty_cap: 40
  expiry_grace_days: 14
scheduler:
  workers: 2
  staleness_hours: 6
detector:
  memory_limit_mb: 128
limiter:
  per_second: 10
  burst: 20
`)

	p, err := LoadProfile(path)
	require.NoError(t, err)
	require.Equal(t, "staging", p.Name)
	require.Equal(t, 40, p.Engine.AssumptionPenaltyCap)
	require.Equal(t, 14, p.Engine.ExpiryGraceDays)

	// Fields the file omits keep their defaults.
	require.Equal(t, 0.7, p.Engine.AssumptionHardFailRatio)
	require.Equal(t, 100, p.Scheduler.BatchLimit)

	require.Equal(t, 2, p.Scheduler.Workers)
	require.Equal(t, 10.0, p.Limiter.PerSecond)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "load profile")
}

func TestLoadProfileRejectsBadYAML(t *testing.T) {
	path := writeProfile(t, "engine: [not a map")
	_, err := LoadProfile(path)
	require.ErrorContains(t, err, "parse profile")
}

func TestValidateRejectsBadConstants(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Profile)
		want   string
	}{
		{"penalty cap over 100", func(p *Profile) { p.Engine.AssumptionPenaltyCap = 120 }, "assumption_penalty_cap"},
		{"zero hard-fail ratio", func(p *Profile) { p.Engine.AssumptionHardFailRatio = 0 }, "assumption_hard_fail_ratio"},
		{"negative grace", func(p *Profile) { p.Engine.ExpiryGraceDays = -1 }, "expiry_grace_days"},
		{"zero decay interval", func(p *Profile) { p.Engine.ReviewDecayIntervalDays = 0 }, "review_decay_interval_days"},
		{"zero workers", func(p *Profile) { p.Scheduler.Workers = 0 }, "workers"},
		{"zero batch", func(p *Profile) { p.Scheduler.BatchLimit = 0 }, "batch_limit"},
		{"zero sandbox memory", func(p *Profile) { p.Detector.MemoryLimitMB = 0 }, "memory_limit_mb"},
		{"zero limiter rate", func(p *Profile) { p.Limiter.PerSecond = 0 }, "per_second"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultProfile()
			tc.mutate(p)
			err := p.Validate()
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestSchedulerConfigConversion(t *testing.T) {
	p := DefaultProfile()
	p.Scheduler.StalenessHours = 6
	p.Scheduler.TickBudgetSeconds = 10

	cfg := p.SchedulerConfig()
	require.Equal(t, 4, cfg.Workers)
	require.Equal(t, 6*time.Hour, cfg.Staleness)
	require.Equal(t, 10*time.Second, cfg.TickBudget)
}

func TestSandboxConfigConversion(t *testing.T) {
	p := DefaultProfile()
	p.Detector.MemoryLimitMB = 128

	cfg := p.SandboxConfig()
	require.Equal(t, int64(128<<20), cfg.MemoryLimitBytes)
	require.Equal(t, 5*time.Second, cfg.CPUTimeLimit)
}
