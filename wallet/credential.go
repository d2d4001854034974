// Package wallet handles the signing credential for automatic payments:
// normalization and validation of user-supplied private keys, display
// masking, and derivation of keys from BIP-39 mnemonics.
//
// A credential is persisted in canonical form: "0x" followed by 64 lowercase
// hex characters. The unmasked form must never appear on any display or
// logging path.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	yogapay "github.com/lotuslabs/yogapay"
)

// NormalizedKeyLength is the canonical credential length: "0x" + 64 hex chars.
const NormalizedKeyLength = 66

var hexKeyRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Normalize converts user-supplied private-key text into canonical form.
// It trims whitespace and adds a 0x prefix when absent, then rejects
// anything that is not exactly 64 hex characters. Normalizing an already
// normalized key returns it unchanged.
//
// Curve-scalar validity is deliberately not checked here; that belongs to
// the signing step, which owns the crypto backend.
func Normalize(input string) (string, error) {
	key := strings.TrimSpace(input)
	if !strings.HasPrefix(key, "0x") {
		key = "0x" + key
	}

	if len(key) != NormalizedKeyLength {
		return "", fmt.Errorf("%w: expected 64 hex characters, got %d",
			yogapay.ErrInvalidKeyLength, len(key)-2)
	}

	if !hexKeyRegex.MatchString(key) {
		return "", fmt.Errorf("%w: must contain only characters 0-9, a-f",
			yogapay.ErrInvalidKeyHex)
	}

	return strings.ToLower(key), nil
}

// Mask returns the display form of a credential: the first 6 and last 4
// characters with the middle elided. Short inputs collapse to "***".
func Mask(key string) string {
	if len(key) <= 10 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}

// ParseKey converts a normalized credential into an ECDSA private key.
// Keys that are out of range for the secp256k1 curve (zero, >= group order)
// are rejected with ErrInvalidCredential.
func ParseKey(normalized string) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(normalized, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", yogapay.ErrInvalidCredential, err)
	}
	return priv, nil
}

// Address derives the signer address for a normalized credential.
func Address(normalized string) (common.Address, error) {
	priv, err := ParseKey(normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(priv.PublicKey), nil
}
