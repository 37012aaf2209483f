// Package keys manages ed25519 keypairs for accountant clients: generation,
// BIP-39 mnemonic recovery, base58 text encodings, and keypair files.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jmerrifield20/accountant/pkg/event"
	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// ErrInvalidMnemonic is returned when a mnemonic fails BIP-39 validation.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// hkdfInfo binds derived seeds to this application.
const hkdfInfo = "accountant ed25519 key"

// Keypair is an account's signing key and its public identity.
type Keypair struct {
	Identity event.Identity
	Private  ed25519.PrivateKey
}

// FromSeed builds a keypair from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &Keypair{Private: priv}
	copy(kp.Identity[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Generate creates a random keypair.
func Generate() (*Keypair, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return FromSeed(seed)
}

// NewMnemonic returns a fresh 24-word BIP-39 mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	return bip39.NewMnemonic(entropy)
}

// FromMnemonic derives a keypair from a BIP-39 mnemonic and optional
// passphrase. The 64-byte BIP-39 seed is reduced to an ed25519 seed with
// HKDF-SHA256, so the same words always yield the same identity.
func FromMnemonic(mnemonic, passphrase string) (*Keypair, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	edSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(hkdfInfo)), edSeed); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return FromSeed(edSeed)
}

// Sign signs t with the keypair, setting t.From to the keypair's identity.
func (kp *Keypair) Sign(t *event.Transfer) {
	t.From = kp.Identity
	t.Sign(kp.Private)
}

// EncodeIdentity returns the base58 text form of id.
func EncodeIdentity(id event.Identity) string { return base58.Encode(id[:]) }

// EncodeDigest returns the base58 text form of d.
func EncodeDigest(d event.Digest) string { return base58.Encode(d[:]) }

// ParseIdentity decodes a base58 identity.
func ParseIdentity(s string) (event.Identity, error) {
	var id event.Identity
	err := decodeFixed(s, id[:], "identity")
	return id, err
}

// ParseDigest decodes a base58 digest.
func ParseDigest(s string) (event.Digest, error) {
	var d event.Digest
	err := decodeFixed(s, d[:], "digest")
	return d, err
}

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (event.Signature, error) {
	var sig event.Signature
	err := decodeFixed(s, sig[:], "signature")
	return sig, err
}

// EncodeSignature returns the base58 text form of sig.
func EncodeSignature(sig event.Signature) string { return base58.Encode(sig[:]) }

func decodeFixed(s string, dst []byte, what string) error {
	b, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("%s must be %d bytes, got %d", what, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

// keyFile is the on-disk JSON form of a keypair.
type keyFile struct {
	Identity string `json:"identity"`
	Seed     string `json:"seed"`
}

// Save writes the keypair to path with owner-only permissions.
func (kp *Keypair) Save(path string) error {
	data, err := json.MarshalIndent(keyFile{
		Identity: EncodeIdentity(kp.Identity),
		Seed:     base58.Encode(kp.Private.Seed()),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal keypair: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	return nil
}

// Load reads a keypair written by Save and checks that the stored identity
// matches the seed.
func Load(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	seed, err := base58.Decode(kf.Seed)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	kp, err := FromSeed(seed)
	if err != nil {
		return nil, err
	}
	if kf.Identity != "" && kf.Identity != EncodeIdentity(kp.Identity) {
		return nil, fmt.Errorf("keypair %s: identity does not match seed", path)
	}
	return kp, nil
}
