package wallet

import (
	"errors"
	"strings"
	"testing"

	yogapay "github.com/lotuslabs/yogapay"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNormalize(t *testing.T) {
	want := "0x" + testKeyHex

	tests := []struct {
		name  string
		input string
	}{
		{"already normalized", "0x" + testKeyHex},
		{"missing prefix", testKeyHex},
		{"surrounding whitespace", "  0x" + testKeyHex + "\n"},
		{"whitespace without prefix", "\t" + testKeyHex + " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	once, err := Normalize(strings.ToUpper(testKeyHex))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := Normalize(once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once != twice {
		t.Errorf("normalization not idempotent: %q != %q", once, twice)
	}
	if once != "0x"+testKeyHex {
		t.Errorf("expected lowercased canonical form, got %q", once)
	}
}

func TestNormalizeRejectsBadLength(t *testing.T) {
	// 63 hex characters after prefix handling.
	short := testKeyHex[:63]
	_, err := Normalize(short)
	if !errors.Is(err, yogapay.ErrInvalidKeyLength) {
		t.Fatalf("expected ErrInvalidKeyLength, got %v", err)
	}
	if !strings.Contains(err.Error(), "got 63") {
		t.Errorf("expected actual length in message, got %q", err.Error())
	}

	if _, err := Normalize(testKeyHex + "ab"); !errors.Is(err, yogapay.ErrInvalidKeyLength) {
		t.Errorf("expected ErrInvalidKeyLength for long key, got %v", err)
	}
}

func TestNormalizeRejectsBadHex(t *testing.T) {
	bad := "g" + testKeyHex[1:]
	_, err := Normalize(bad)
	if !errors.Is(err, yogapay.ErrInvalidKeyHex) {
		t.Errorf("expected ErrInvalidKeyHex, got %v", err)
	}
}

func TestMask(t *testing.T) {
	masked := Mask("0x" + testKeyHex)
	if masked != "0x4c08...2318" {
		t.Errorf("unexpected mask: %q", masked)
	}
	if strings.Contains(masked, testKeyHex[4:60]) {
		t.Error("mask leaked key material")
	}

	if Mask("short") != "***" {
		t.Errorf("expected *** for short input, got %q", Mask("short"))
	}
}

func TestParseKey(t *testing.T) {
	priv, err := ParseKey("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if priv == nil {
		t.Fatal("expected private key")
	}

	// A zero key passes the format checks but is not a valid curve scalar.
	zero := "0x" + strings.Repeat("0", 64)
	if _, err := ParseKey(zero); !errors.Is(err, yogapay.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential for zero key, got %v", err)
	}

	// Value above the secp256k1 group order.
	over := "0xfffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe"
	if _, err := ParseKey(over); !errors.Is(err, yogapay.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential for out-of-range key, got %v", err)
	}
}

func TestAddress(t *testing.T) {
	addr, err := Address("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.Hex() == "0x0000000000000000000000000000000000000000" {
		t.Error("expected non-zero address")
	}
}

func TestFromMnemonic(t *testing.T) {
	// Standard BIP-39 test vector mnemonic.
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	key, err := FromMnemonic(mnemonic, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != NormalizedKeyLength {
		t.Errorf("expected %d chars, got %d", NormalizedKeyLength, len(key))
	}

	// Deterministic derivation.
	again, err := FromMnemonic(mnemonic, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != again {
		t.Error("mnemonic derivation is not deterministic")
	}

	// Different account index yields a different key.
	other, err := FromMnemonic(mnemonic, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other == key {
		t.Error("expected distinct keys for distinct account indexes")
	}

	if _, err := FromMnemonic("not a valid mnemonic", 0); !errors.Is(err, yogapay.ErrInvalidCredential) {
		t.Errorf("expected ErrInvalidCredential, got %v", err)
	}
}
