// Package cryptobox wraps NaCl box authenticated encryption for the
// wallet deep-link exchange: one X25519 key pair per process, a
// precomputed shared secret per counterparty, and base58-encoded
// nonce/ciphertext pairs suitable for URL transport.
package cryptobox

import (
	"crypto/rand"
	"errors"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

var (
	// ErrInvalidKey is returned for keys of the wrong length or encoding.
	ErrInvalidKey = errors.New("cryptobox: invalid key")
	// ErrDecryptionFailed is returned when authentication fails on open.
	// No partial plaintext is ever returned alongside it.
	ErrDecryptionFailed = errors.New("cryptobox: decryption failed")
)

// NonceSize is the NaCl box nonce length in bytes.
const NonceSize = 24

// KeyPair is the process-wide dapp encryption identity.
type KeyPair struct {
	Public *[32]byte
	secret *[32]byte
}

// GenerateKeyPair creates a fresh X25519 key pair. Called once per
// process when no configured secret is available.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, secret: priv}, nil
}

// KeyPairFromSecret rebuilds the identity from a base58-encoded secret
// key, deriving the public half. Lets wallet connections survive
// restarts when the secret is supplied via config.
func KeyPairFromSecret(secretB58 string) (*KeyPair, error) {
	raw, err := base58.Decode(secretB58)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	secret := new([32]byte)
	copy(secret[:], raw)
	pub := new([32]byte)
	curve25519.ScalarBaseMult(pub, secret)
	return &KeyPair{Public: pub, secret: secret}, nil
}

// LoadOrGenerate rebuilds the identity from a configured secret, or
// generates an ephemeral one when none is set.
func LoadOrGenerate(secretB58 string) (*KeyPair, error) {
	if secretB58 == "" {
		return GenerateKeyPair()
	}
	return KeyPairFromSecret(secretB58)
}

// PublicBase58 returns the encoded public key for deep-link parameters.
func (kp *KeyPair) PublicBase58() string {
	return base58.Encode(kp.Public[:])
}

// SharedSecret derives the symmetric box key for a counterparty from
// its base58-encoded public key. Both sides compute the same value.
func (kp *KeyPair) SharedSecret(counterpartyPubB58 string) (*[32]byte, error) {
	raw, err := base58.Decode(counterpartyPubB58)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	pub := new([32]byte)
	copy(pub[:], raw)
	shared := new([32]byte)
	box.Precompute(shared, pub, kp.secret)
	return shared, nil
}

// Envelope is the wire artifact carried in deep links and callbacks.
type Envelope struct {
	Nonce string // base58, 24 random bytes
	Data  string // base58 ciphertext
}

// Seal encrypts plaintext under the shared secret with a fresh random
// nonce. A new nonce is drawn from crypto/rand on every call; reuse
// under the same shared secret breaks box security.
func Seal(shared *[32]byte, plaintext []byte) (Envelope, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Envelope{}, err
	}
	sealed := box.SealAfterPrecomputation(nil, plaintext, &nonce, shared)
	return Envelope{
		Nonce: base58.Encode(nonce[:]),
		Data:  base58.Encode(sealed),
	}, nil
}

// Open decrypts a received envelope. Tampered ciphertext, a wrong
// nonce, or a wrong key all yield ErrDecryptionFailed.
func Open(shared *[32]byte, env Envelope) ([]byte, error) {
	nonceRaw, err := base58.Decode(env.Nonce)
	if err != nil || len(nonceRaw) != NonceSize {
		return nil, ErrDecryptionFailed
	}
	dataRaw, err := base58.Decode(env.Data)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	var nonce [NonceSize]byte
	copy(nonce[:], nonceRaw)
	plain, ok := box.OpenAfterPrecomputation(nil, dataRaw, &nonce, shared)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}
