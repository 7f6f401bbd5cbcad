package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/decivue/core/pkg/archive"
	"github.com/decivue/core/pkg/config"
	"github.com/decivue/core/pkg/contracts"
	"github.com/decivue/core/pkg/detector"
	"github.com/decivue/core/pkg/engine"
	"github.com/decivue/core/pkg/governance"
	"github.com/decivue/core/pkg/identity"
	"github.com/decivue/core/pkg/keyring"
	"github.com/decivue/core/pkg/notify"
	"github.com/decivue/core/pkg/observability"
	"github.com/decivue/core/pkg/predicate"
	"github.com/decivue/core/pkg/scheduler"
	"github.com/decivue/core/pkg/service"
	"github.com/decivue/core/pkg/store"
)

// stack is the wired deployment: the service facade plus every
// resource that must be released on the way out.
type stack struct {
	cfg     *config.Config
	profile *config.Profile
	logger  *slog.Logger
	svc     *service.Service

	store   *store.SQL
	sandbox *detector.Sandbox
	redis   *scheduler.Distributed
	obs     *observability.Provider
}

// buildStack wires the whole deployment from configuration. Callers
// own the returned stack and must Close it.
func buildStack(ctx context.Context, cfg *config.Config, stderr io.Writer) (*stack, error) {
	logger := newLogger(cfg.LogLevel, stderr)

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		return nil, err
	}
	logger.Info("profile loaded", "name", profile.Name)

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &stack{cfg: cfg, profile: profile, logger: logger, store: st}

	validator, err := predicate.NewValidator()
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("predicate validator: %w", err)
	}
	eng := engine.New(validator, engine.WithTunables(profile.Engine))

	var limiter scheduler.Limiter
	if cfg.RedisAddr != "" {
		s.redis = scheduler.NewDistributed(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			profile.Limiter.PerSecond, profile.Limiter.Burst)
		// One shared bucket for the deployment: evaluation work is
		// throttled globally, not per tenant.
		limiter = s.redis.ForOrg("deployment")
		logger.Info("rate limiter", "mode", "redis", "addr", cfg.RedisAddr)
	} else {
		limiter = scheduler.NewLocal(profile.Limiter.PerSecond, profile.Limiter.Burst)
	}

	notifier := notify.NewRecorder(st, notify.NewLog(logger))

	orch := scheduler.New(st, eng,
		scheduler.WithConfig(profile.SchedulerConfig()),
		scheduler.WithLimiter(limiter),
		scheduler.WithNotifier(notifier),
		scheduler.WithLogger(logger),
	)

	gov := governance.NewManager(st, directoryFromEnv(), notifier).WithLogger(logger)

	runner := detector.NewRunner(st).WithLogger(logger)
	if err := runner.Register("parameter-contradictions", detector.ParameterContradictions()); err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("register detector: %w", err)
	}

	s.sandbox, err = detector.NewSandbox(ctx, profile.SandboxConfig())
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("detector sandbox: %w", err)
	}

	backend, err := archive.New(ctx, archive.Config{
		Backend: archive.BackendType(cfg.ArchiveBackend),
		Dir:     cfg.ArchiveDir,
		S3: archive.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		},
		GCS: archive.GCSConfig{Bucket: cfg.GCSBucket},
	})
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("archive backend: %w", err)
	}

	signer, err := buildSigner(cfg.SigningSeed)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	if cfg.TelemetryEnabled {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Insecure = true
		s.obs, err = observability.New(ctx, obsCfg)
		if err != nil {
			s.Close(ctx)
			return nil, fmt.Errorf("telemetry: %w", err)
		}
	}

	svc, err := service.New(service.Deps{
		Store:      st,
		Governance: gov,
		Scheduler:  orch,
		Detectors:  runner,
		Sandbox:    s.sandbox,
		Archive:    backend,
		Signer:     signer,
		Notifier:   notifier,
	}, service.WithLogger(logger))
	if err != nil {
		s.Close(ctx)
		return nil, fmt.Errorf("service: %w", err)
	}
	s.svc = svc

	if cfg.DetectorPackDir != "" {
		if err := loadDetectorPacks(ctx, svc, cfg.DetectorPackDir, logger); err != nil {
			s.Close(ctx)
			return nil, err
		}
	}

	return s, nil
}

// Close releases stack resources in reverse dependency order.
func (s *stack) Close(ctx context.Context) {
	if s.obs != nil {
		if err := s.obs.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if s.sandbox != nil {
		if err := s.sandbox.Close(); err != nil {
			s.logger.Warn("sandbox close failed", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("redis close failed", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close failed", "error", err)
		}
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func openStore(cfg *config.Config) (*store.SQL, error) {
	if cfg.DatabaseURL != "" {
		st, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return st, nil
	}
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	st, err := store.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return st, nil
}

func buildSigner(seedHex string) (*keyring.Keyring, error) {
	if seedHex == "" {
		// Ephemeral key. Exports verify within this process lifetime
		// only; deployments that archive bundles set SIGNING_SEED.
		provider, err := keyring.NewMemoryProvider()
		if err != nil {
			return nil, fmt.Errorf("signing key: %w", err)
		}
		return keyring.New(provider), nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("SIGNING_SEED is not hex: %w", err)
	}
	provider, err := keyring.NewMemoryProviderFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("SIGNING_SEED: %w", err)
	}
	return keyring.New(provider), nil
}

// directoryFromEnv builds the role directory from DECIVUE_LEADS and
// DECIVUE_MEMBERS, comma-separated "user@org" entries.
func directoryFromEnv() *identity.StaticDirectory {
	var actors []contracts.Actor
	actors = append(actors, parseActors(os.Getenv("DECIVUE_LEADS"), contracts.RoleLead)...)
	actors = append(actors, parseActors(os.Getenv("DECIVUE_MEMBERS"), contracts.RoleMember)...)
	return identity.NewStaticDirectory(actors...)
}

func parseActors(v string, role contracts.Role) []contracts.Actor {
	var actors []contracts.Actor
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, org, ok := strings.Cut(entry, "@")
		if !ok || user == "" || org == "" {
			continue
		}
		actors = append(actors, contracts.Actor{UserID: user, OrganizationID: org, Role: role})
	}
	return actors
}

// loadDetectorPacks registers every .wasm file in dir through the
// sandbox, named after its file stem.
func loadDetectorPacks(ctx context.Context, svc *service.Service, dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("detector pack dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		wasm, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read pack %s: %w", entry.Name(), err)
		}
		pack := detector.Pack{
			Name: strings.TrimSuffix(entry.Name(), ".wasm"),
			Wasm: wasm,
		}
		if err := svc.RegisterDetectorPack(ctx, pack); err != nil {
			return fmt.Errorf("register pack %s: %w", entry.Name(), err)
		}
		logger.Info("detector pack loaded", "name", pack.Name)
	}
	return nil
}
