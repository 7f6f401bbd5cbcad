package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/decivue/core/pkg/detector"
	"github.com/decivue/core/pkg/engine"
	"github.com/decivue/core/pkg/scheduler"
)

// Profile is the deployment profile. It fixes the evaluation
// constants for one deployment; changing them mid-flight would make
// stored traces incomparable, so they load once at boot.
type Profile struct {
	Name      string           `yaml:"name"`
	Engine    engine.Tunables  `yaml:"engine"`
	Scheduler SchedulerProfile `yaml:"scheduler"`
	Detector  DetectorProfile  `yaml:"detector"`
	Limiter   LimiterProfile   `yaml:"limiter"`
}

// SchedulerProfile configures the background evaluation loop.
type SchedulerProfile struct {
	Workers           int `yaml:"workers"`
	BatchLimit        int `yaml:"batch_limit"`
	StalenessHours    int `yaml:"staleness_hours"`
	TickBudgetSeconds int `yaml:"tick_budget_seconds"`
}

// DetectorProfile bounds sandboxed detector packs.
type DetectorProfile struct {
	MemoryLimitMB       int `yaml:"memory_limit_mb"`
	CPUTimeLimitSeconds int `yaml:"cpu_time_limit_seconds"`
}

// LimiterProfile configures the per-organization evaluation rate
// limiter.
type LimiterProfile struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// DefaultProfile returns the standard deployment constants.
func DefaultProfile() *Profile {
	return &Profile{
		Name:   "default",
		Engine: engine.DefaultTunables(),
		Scheduler: SchedulerProfile{
			Workers:           4,
			BatchLimit:        100,
			StalenessHours:    24,
			TickBudgetSeconds: 30,
		},
		Detector: DetectorProfile{
			MemoryLimitMB:       64,
			CPUTimeLimitSeconds: 5,
		},
		Limiter: LimiterProfile{
			PerSecond: 50,
			Burst:     100,
		},
	}
}

// LoadProfile reads and validates a profile YAML. An empty path
// returns the defaults.
func LoadProfile(path string) (*Profile, error) {
	if path == "" {
		return DefaultProfile(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	p := DefaultProfile()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}

	return p, nil
}

// Validate rejects constants the pipeline cannot run with.
func (p *Profile) Validate() error {
	if p.Engine.AssumptionPenaltyCap < 0 || p.Engine.AssumptionPenaltyCap > 100 {
		return fmt.Errorf("engine.assumption_penalty_cap must be in [0,100], got %d", p.Engine.AssumptionPenaltyCap)
	}
	if p.Engine.AssumptionHardFailRatio <= 0 || p.Engine.AssumptionHardFailRatio > 1 {
		return fmt.Errorf("engine.assumption_hard_fail_ratio must be in (0,1], got %g", p.Engine.AssumptionHardFailRatio)
	}
	if p.Engine.ExpiryGraceDays < 0 {
		return fmt.Errorf("engine.expiry_grace_days must not be negative, got %d", p.Engine.ExpiryGraceDays)
	}
	if p.Engine.ReviewDecayIntervalDays <= 0 {
		return fmt.Errorf("engine.review_decay_interval_days must be positive, got %d", p.Engine.ReviewDecayIntervalDays)
	}
	if p.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be positive, got %d", p.Scheduler.Workers)
	}
	if p.Scheduler.BatchLimit <= 0 {
		return fmt.Errorf("scheduler.batch_limit must be positive, got %d", p.Scheduler.BatchLimit)
	}
	if p.Detector.MemoryLimitMB <= 0 {
		return fmt.Errorf("detector.memory_limit_mb must be positive, got %d", p.Detector.MemoryLimitMB)
	}
	if p.Limiter.PerSecond <= 0 {
		return fmt.Errorf("limiter.per_second must be positive, got %g", p.Limiter.PerSecond)
	}
	return nil
}

// SchedulerConfig converts the profile into the scheduler's config.
func (p *Profile) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Workers:    p.Scheduler.Workers,
		BatchLimit: p.Scheduler.BatchLimit,
		Staleness:  time.Duration(p.Scheduler.StalenessHours) * time.Hour,
		TickBudget: time.Duration(p.Scheduler.TickBudgetSeconds) * time.Second,
	}
}

// SandboxConfig converts the profile into the detector sandbox config.
func (p *Profile) SandboxConfig() detector.SandboxConfig {
	return detector.SandboxConfig{
		MemoryLimitBytes: int64(p.Detector.MemoryLimitMB) << 20,
		CPUTimeLimit:     time.Duration(p.Detector.CPUTimeLimitSeconds) * time.Second,
	}
}
