// Package keyring signs exported evidence bundles. A master key
// derives one Ed25519 keypair per organization through HKDF-SHA256,
// so a leaked organization key never exposes the master or any other
// tenant's key.
package keyring

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivationSalt = "decivue-org-kdf"

// Provider performs the raw signing operation. The in-memory
// implementation can be swapped for an HSM or cloud KMS.
type Provider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// seeder is implemented by providers whose key material supports
// HKDF derivation.
type seeder interface {
	seed() []byte
}

// MemoryProvider holds an Ed25519 keypair in process memory.
type MemoryProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryProvider generates a random keypair.
func NewMemoryProvider() (*MemoryProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &MemoryProvider{pub: pub, priv: priv}, nil
}

// NewMemoryProviderFromSeed builds the deterministic keypair for a
// 32-byte seed, typically the configured master secret.
func NewMemoryProviderFromSeed(seed []byte) (*MemoryProvider, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemoryProvider{
		pub:  priv.Public().(ed25519.PublicKey),
		priv: priv,
	}, nil
}

func (m *MemoryProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

func (m *MemoryProvider) seed() []byte {
	return m.priv.Seed()
}

// Envelope carries a detached signature with everything needed to
// verify it.
type Envelope struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

// Keyring signs on behalf of one key.
type Keyring struct {
	provider Provider
}

// New wraps a provider.
func New(p Provider) *Keyring {
	return &Keyring{provider: p}
}

// Sign produces a verification envelope over msg.
func (k *Keyring) Sign(msg []byte) (Envelope, error) {
	sig, err := k.provider.Sign(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("sign: %w", err)
	}
	pub := k.provider.PublicKey()
	return Envelope{
		Algorithm: "ed25519",
		KeyID:     Fingerprint(pub),
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Signature: base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// PublicKey exposes the verification key.
func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.provider.PublicKey()
}

// ForOrganization derives the organization's keyring. Derivation is
// deterministic; the same master and organization always yield the
// same keypair.
func (k *Keyring) ForOrganization(orgID string) (*Keyring, error) {
	if orgID == "" {
		return nil, fmt.Errorf("organization id must not be empty")
	}
	s, ok := k.provider.(seeder)
	if !ok {
		return nil, fmt.Errorf("provider %T does not support derivation", k.provider)
	}

	r := hkdf.New(sha256.New, s.seed(), []byte(derivationSalt), []byte(orgID))
	orgSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, orgSeed); err != nil {
		return nil, fmt.Errorf("derive organization key: %w", err)
	}
	provider, err := NewMemoryProviderFromSeed(orgSeed)
	if err != nil {
		return nil, err
	}
	return New(provider), nil
}

// Verify checks an envelope against msg.
func Verify(msg []byte, env Envelope) (bool, error) {
	if env.Algorithm != "ed25519" {
		return false, fmt.Errorf("unsupported algorithm %q", env.Algorithm)
	}
	pub, err := base64.StdEncoding.DecodeString(env.PublicKey)
	if err != nil {
		return false, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}

// Fingerprint is the stable identifier of a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "sha256:" + hex.EncodeToString(sum[:])
}
