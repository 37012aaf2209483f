// Package event defines the values that flow through the accountant: account
// identities, signatures, digests, and the signed Transfer event.
//
// All three primitive types are fixed-size arrays, so a value of the wrong
// length cannot be constructed. Decoders that accept untrusted bytes must
// check lengths before converting.
package event

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

const (
	// IdentitySize is the length of an ed25519 public key.
	IdentitySize = ed25519.PublicKeySize
	// SignatureSize is the length of an ed25519 signature.
	SignatureSize = ed25519.SignatureSize
	// DigestSize is the length of a SHA-256 digest.
	DigestSize = sha256.Size

	// MessageSize is the length of the bytes covered by a transfer signature.
	MessageSize = IdentitySize*2 + 8 + DigestSize
	// EncodedSize is the length of Transfer.Encode.
	EncodedSize = 1 + MessageSize + SignatureSize
)

// tagTransfer prefixes the encoding of a Transfer. It is the only event kind.
const tagTransfer byte = 0x01

// Identity is an account's public key.
type Identity [IdentitySize]byte

// Signature is an ed25519 signature produced by an Identity's private key.
type Signature [SignatureSize]byte

// Digest is a SHA-256 value, used as entry id and chain link.
type Digest [DigestSize]byte

// String returns the hex form of the identity.
func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// String returns the hex form of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool { return d == Digest{} }

// Hash returns the SHA-256 digest of the concatenation of parts.
func Hash(parts ...[]byte) Digest {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Transfer moves Amount from From to To. Reference must equal the ledger
// head at the time the transfer is validated.
type Transfer struct {
	From      Identity
	To        Identity
	Amount    uint64
	Reference Digest
	Sig       Signature
}

// Message returns the canonical bytes covered by the signature:
// From || To || Amount (big-endian) || Reference.
func (t *Transfer) Message() []byte {
	b := make([]byte, 0, MessageSize)
	b = append(b, t.From[:]...)
	b = append(b, t.To[:]...)
	b = binary.BigEndian.AppendUint64(b, t.Amount)
	b = append(b, t.Reference[:]...)
	return b
}

// Encode returns the canonical encoding of the whole event, signature
// included. Entry ids are computed over these bytes.
func (t *Transfer) Encode() []byte {
	b := make([]byte, 0, EncodedSize)
	b = append(b, tagTransfer)
	b = append(b, t.Message()...)
	b = append(b, t.Sig[:]...)
	return b
}

// Sign fills in Sig using priv. The accountant itself never signs.
func (t *Transfer) Sign(priv ed25519.PrivateKey) {
	copy(t.Sig[:], ed25519.Sign(priv, t.Message()))
}

// Verify reports whether Sig was produced by From over Message.
func (t *Transfer) Verify() bool {
	return Verify(t.From, t.Message(), t.Sig)
}

// Verify reports whether sig is a valid signature of msg by id.
// It never panics: a malformed signature simply fails verification.
func Verify(id Identity, msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(id[:]), msg, sig[:])
}
