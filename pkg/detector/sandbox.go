package detector

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// SandboxConfig bounds a detector pack run.
type SandboxConfig struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// DefaultSandboxConfig is the standard confinement: 64 MiB of memory
// and five seconds of wall clock per run.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MemoryLimitBytes: 64 << 20,
		CPUTimeLimit:     5 * time.Second,
	}
}

// Pack is a WASI detector module. The module reads the Input JSON
// from stdin and writes a Findings JSON document to stdout.
type Pack struct {
	Name string
	Wasm []byte
}

// Hash is the content address of the pack binary.
func (p Pack) Hash() string {
	sum := sha256.Sum256(p.Wasm)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Sandbox hosts detector packs under deny-by-default WASI: no
// filesystem, no network, no environment, memory and time bounded.
type Sandbox struct {
	runtime wazero.Runtime
	cfg     SandboxConfig
}

// NewSandbox creates the shared runtime for detector packs.
func NewSandbox(ctx context.Context, cfg SandboxConfig) (*Sandbox, error) {
	rcfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		// wazero counts memory in 64 KiB pages.
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		rcfg = rcfg.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rcfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	return &Sandbox{runtime: r, cfg: cfg}, nil
}

// Detector wraps a pack as a Detector running inside the sandbox.
func (s *Sandbox) Detector(pack Pack) Detector {
	return &packDetector{sandbox: s, pack: pack}
}

// Close shuts the runtime down, releasing every compiled module.
func (s *Sandbox) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.runtime.Close(ctx)
}

type packDetector struct {
	sandbox *Sandbox
	pack    Pack
}

func (p *packDetector) Detect(ctx context.Context, in Input) (Findings, error) {
	if p.sandbox.cfg.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.sandbox.cfg.CPUTimeLimit)
		defer cancel()
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return Findings{}, fmt.Errorf("pack %s: encode input: %w", p.pack.Name, err)
	}

	var stdout, stderr bytes.Buffer
	// Deny-by-default: no FS mounts, no env, no wall clock, no
	// random source beyond wazero's defaults.
	modCfg := wazero.NewModuleConfig().
		WithName("decivue-detector").
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	compiled, err := p.sandbox.runtime.CompileModule(ctx, p.pack.Wasm)
	if err != nil {
		return Findings{}, fmt.Errorf("pack %s: compile: %w", p.pack.Name, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := p.sandbox.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return Findings{}, fmt.Errorf("pack %s: timed out after %v", p.pack.Name, p.sandbox.cfg.CPUTimeLimit)
		}
		return Findings{}, fmt.Errorf("pack %s: run: %w", p.pack.Name, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return Findings{}, fmt.Errorf("pack %s: %s", p.pack.Name, stderr.String())
	}

	var out Findings
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Findings{}, fmt.Errorf("pack %s: decode findings: %w", p.pack.Name, err)
	}
	return out, nil
}
