package main

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/decivue/core/pkg/archive"
	"github.com/decivue/core/pkg/config"
)

// runDoctor implements `decivue doctor`: check the deployment
// configuration without mutating anything. Connectivity checks use
// short timeouts so a dead backend fails fast.
//
// Exit codes:
//
//	0 = no failed checks
//	1 = one or more checks failed
//	2 = flag error
func runDoctor(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var jsonOut bool
	cmd.BoolVar(&jsonOut, "json", false, "print results as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	type checkResult struct {
		Name   string `json:"name"`
		Status string `json:"status"` // "ok", "warn", "fail"
		Detail string `json:"detail,omitempty"`
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := config.Load()
	var results []checkResult
	allOK := true

	results = append(results, checkResult{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	if profile, err := config.LoadProfile(cfg.ProfilePath); err != nil {
		results = append(results, checkResult{Name: "profile", Status: "fail", Detail: err.Error()})
		allOK = false
	} else {
		results = append(results, checkResult{Name: "profile", Status: "ok", Detail: profile.Name})
	}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.PingContext(ctx)
			_ = db.Close()
		}
		if err != nil {
			results = append(results, checkResult{Name: "postgres", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "postgres", Status: "ok", Detail: "reachable"})
		}
	} else {
		dir := filepath.Dir(cfg.SQLitePath)
		if _, err := os.Stat(dir); err != nil {
			results = append(results, checkResult{
				Name:   "sqlite",
				Status: "warn",
				Detail: fmt.Sprintf("%s does not exist (created on first run)", dir),
			})
		} else {
			results = append(results, checkResult{Name: "sqlite", Status: "ok", Detail: cfg.SQLitePath})
		}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			results = append(results, checkResult{Name: "redis", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "redis", Status: "ok", Detail: cfg.RedisAddr})
		}
		_ = client.Close()
	} else {
		results = append(results, checkResult{
			Name:   "redis",
			Status: "ok",
			Detail: "not configured, in-process limiter",
		})
	}

	if cfg.AuthSecret == "" {
		results = append(results, checkResult{
			Name:   "auth_secret",
			Status: "warn",
			Detail: "AUTH_SECRET not set; token minting unavailable",
		})
	} else {
		results = append(results, checkResult{Name: "auth_secret", Status: "ok", Detail: "set"})
	}

	switch seed, err := hex.DecodeString(cfg.SigningSeed); {
	case cfg.SigningSeed == "":
		results = append(results, checkResult{
			Name:   "signing_seed",
			Status: "warn",
			Detail: "SIGNING_SEED not set; export signatures will not survive restarts",
		})
	case err != nil:
		results = append(results, checkResult{Name: "signing_seed", Status: "fail", Detail: "not valid hex"})
		allOK = false
	case len(seed) != ed25519.SeedSize:
		results = append(results, checkResult{
			Name:   "signing_seed",
			Status: "fail",
			Detail: fmt.Sprintf("must decode to %d bytes, got %d", ed25519.SeedSize, len(seed)),
		})
		allOK = false
	default:
		results = append(results, checkResult{Name: "signing_seed", Status: "ok", Detail: "set"})
	}

	switch archive.BackendType(cfg.ArchiveBackend) {
	case archive.BackendFS, "":
		results = append(results, checkResult{Name: "archive", Status: "ok", Detail: "fs " + cfg.ArchiveDir})
	case archive.BackendS3:
		if cfg.S3Bucket == "" {
			results = append(results, checkResult{Name: "archive", Status: "fail", Detail: "s3 backend needs S3_BUCKET"})
			allOK = false
		} else {
			results = append(results, checkResult{Name: "archive", Status: "ok", Detail: "s3 " + cfg.S3Bucket})
		}
	case archive.BackendGCS:
		if cfg.GCSBucket == "" {
			results = append(results, checkResult{Name: "archive", Status: "fail", Detail: "gcs backend needs GCS_BUCKET"})
			allOK = false
		} else {
			results = append(results, checkResult{
				Name:   "archive",
				Status: "warn",
				Detail: "gcs " + cfg.GCSBucket + " (requires a binary built with the gcp tag)",
			})
		}
	default:
		results = append(results, checkResult{
			Name:   "archive",
			Status: "fail",
			Detail: fmt.Sprintf("unknown backend %q", cfg.ArchiveBackend),
		})
		allOK = false
	}

	if cfg.DetectorPackDir != "" {
		entries, err := os.ReadDir(cfg.DetectorPackDir)
		if err != nil {
			results = append(results, checkResult{Name: "detector_packs", Status: "fail", Detail: err.Error()})
			allOK = false
		} else {
			packs := 0
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".wasm") {
					packs++
				}
			}
			results = append(results, checkResult{
				Name:   "detector_packs",
				Status: "ok",
				Detail: fmt.Sprintf("%d pack(s) in %s", packs, cfg.DetectorPackDir),
			})
		}
	}

	if len(cfg.Organizations) == 0 {
		results = append(results, checkResult{Name: "organizations", Status: "fail", Detail: "DECIVUE_ORGS resolves to an empty roster"})
		allOK = false
	} else {
		results = append(results, checkResult{
			Name:   "organizations",
			Status: "ok",
			Detail: strings.Join(cfg.Organizations, ", "),
		})
	}

	if jsonOut {
		data, _ := json.MarshalIndent(results, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		for _, r := range results {
			_, _ = fmt.Fprintf(stdout, "  [%-4s] %-16s %s\n", r.Status, r.Name, r.Detail)
		}
	}

	if allOK {
		if !jsonOut {
			_, _ = fmt.Fprintln(stdout, "\nno failed checks")
		}
		return 0
	}
	return 1
}
