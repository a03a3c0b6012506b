// Package solana holds the minimal chain math this system needs:
// deriving the associated token account used as a payment destination.
package solana

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	tokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"

	pdaMarker = "ProgramDerivedAddress"
)

// ErrInvalidAddress is returned for inputs that are not 32-byte base58
// Solana addresses.
var ErrInvalidAddress = errors.New("solana: invalid address")

// AssociatedTokenAccount derives the deterministic token account for a
// wallet and mint: the settlement destination for payments.
func AssociatedTokenAccount(wallet, mint string) (string, error) {
	walletRaw, err := decodeAddress(wallet)
	if err != nil {
		return "", fmt.Errorf("wallet: %w", err)
	}
	mintRaw, err := decodeAddress(mint)
	if err != nil {
		return "", fmt.Errorf("mint: %w", err)
	}
	tokenProgRaw, _ := decodeAddress(tokenProgramID)
	ataProgRaw, _ := decodeAddress(associatedTokenProgramID)

	addr, _, err := findProgramAddress([][]byte{walletRaw, tokenProgRaw, mintRaw}, ataProgRaw)
	if err != nil {
		return "", err
	}
	return base58.Encode(addr), nil
}

// findProgramAddress walks bump seeds from 255 downward until the
// derived address falls off the ed25519 curve, as program-derived
// addresses must.
func findProgramAddress(seeds [][]byte, programID []byte) ([]byte, byte, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID)
		h.Write([]byte(pdaMarker))
		candidate := h.Sum(nil)

		if isOffCurve(candidate) {
			return candidate, byte(bump), nil
		}
	}
	return nil, 0, errors.New("solana: no viable program address")
}

func isOffCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err != nil
}

func decodeAddress(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidAddress
	}
	return raw, nil
}
