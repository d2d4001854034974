package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	yogapay "github.com/lotuslabs/yogapay"
)

// FromMnemonic derives a normalized signing credential from a BIP-39
// mnemonic phrase. The accountIndex selects the HD account, following the
// standard Ethereum derivation path m/44'/60'/0'/0/{accountIndex}.
func FromMnemonic(mnemonic string, accountIndex uint32) (string, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return "", fmt.Errorf("%w: invalid mnemonic phrase", yogapay.ErrInvalidCredential)
	}

	seed := bip39.NewSeed(mnemonic, "")

	key, err := deriveEthereumKey(seed, accountIndex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", yogapay.ErrInvalidCredential, err)
	}

	return Normalize(hex.EncodeToString(key))
}

// deriveEthereumKey derives raw Ethereum private key bytes from a BIP-39
// seed along m/44'/60'/0'/0/{index}.
func deriveEthereumKey(seed []byte, index uint32) ([]byte, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	// m/44'
	key, err := masterKey.NewChildKey(bip32.FirstHardenedChild + 44)
	if err != nil {
		return nil, err
	}

	// m/44'/60'
	key, err = key.NewChildKey(bip32.FirstHardenedChild + 60)
	if err != nil {
		return nil, err
	}

	// m/44'/60'/0'
	key, err = key.NewChildKey(bip32.FirstHardenedChild + 0)
	if err != nil {
		return nil, err
	}

	// m/44'/60'/0'/0
	key, err = key.NewChildKey(0)
	if err != nil {
		return nil, err
	}

	// m/44'/60'/0'/0/{index}
	key, err = key.NewChildKey(index)
	if err != nil {
		return nil, err
	}

	// Reject the astronomically unlikely invalid scalar early.
	if _, err := crypto.ToECDSA(key.Key); err != nil {
		return nil, err
	}

	return key.Key, nil
}
