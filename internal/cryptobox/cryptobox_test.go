package cryptobox

import (
	"bytes"
	"testing"

	"github.com/mr-tron/base58"
)

func TestSealOpenRoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	shared, err := alice.SharedSecret(bob.PublicBase58())
	if err != nil {
		t.Fatal(err)
	}

	tests := [][]byte{
		[]byte(`{"transaction":"abc","session":"s1"}`),
		[]byte(""),
		bytes.Repeat([]byte{0xff}, 4096),
	}
	for _, plaintext := range tests {
		env, err := Seal(shared, plaintext)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Open(shared, env)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestSharedSecretSymmetric(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	ab, err := alice.SharedSecret(bob.PublicBase58())
	if err != nil {
		t.Fatal(err)
	}
	ba, err := bob.SharedSecret(alice.PublicBase58())
	if err != nil {
		t.Fatal(err)
	}
	if *ab != *ba {
		t.Fatal("shared secrets differ between the two parties")
	}
}

func TestSealNeverReusesNonce(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	shared, _ := alice.SharedSecret(bob.PublicBase58())

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		env, err := Seal(shared, []byte("same plaintext"))
		if err != nil {
			t.Fatal(err)
		}
		if _, dup := seen[env.Nonce]; dup {
			t.Fatalf("nonce reused after %d seals", i)
		}
		seen[env.Nonce] = struct{}{}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	shared, _ := alice.SharedSecret(bob.PublicBase58())

	env, err := Seal(shared, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base58.Decode(env.Data)
	raw[0] ^= 0x01
	tampered := Envelope{Nonce: env.Nonce, Data: base58.Encode(raw)}

	if _, err := Open(shared, tampered); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestOpenRejectsWrongNonce(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	shared, _ := alice.SharedSecret(bob.PublicBase58())

	env, err := Seal(shared, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	other, err := Seal(shared, []byte("other"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Open(shared, Envelope{Nonce: other.Nonce, Data: env.Data}); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	eve, _ := GenerateKeyPair()

	shared, _ := alice.SharedSecret(bob.PublicBase58())
	wrong, _ := alice.SharedSecret(eve.PublicBase58())

	env, err := Seal(shared, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Open(wrong, env); err != ErrDecryptionFailed {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSharedSecretInvalidKey(t *testing.T) {
	alice, _ := GenerateKeyPair()

	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"not base58", "0OIl+/"},
		{"too short", base58.Encode([]byte{1, 2, 3})},
		{"too long", base58.Encode(bytes.Repeat([]byte{7}, 64))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := alice.SharedSecret(tt.key); err != ErrInvalidKey {
				t.Fatalf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestKeyPairFromSecretDerivesSamePublic(t *testing.T) {
	kp, _ := GenerateKeyPair()
	restored, err := KeyPairFromSecret(base58.Encode(kp.secret[:]))
	if err != nil {
		t.Fatal(err)
	}
	if restored.PublicBase58() != kp.PublicBase58() {
		t.Fatal("restored key pair has a different public key")
	}
}
