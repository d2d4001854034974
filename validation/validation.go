// Package validation provides structural validation of payment requirements
// before they reach the authorizer. It checks shape only; cryptographic
// validity is the authorizer's job.
package validation

import (
	"fmt"
	"math/big"
	"regexp"

	yogapay "github.com/lotuslabs/yogapay"
)

// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars).
var evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateAmount validates that an amount string is a base-10 non-negative
// integer in atomic units. Zero is allowed for free-with-signature flows.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("%w: maxAmountRequired", yogapay.ErrMissingRequirement)
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("%w: %s", yogapay.ErrInvalidAmount, amount)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: amount must be non-negative, got %s", yogapay.ErrInvalidAmount, amount)
	}

	return nil
}

// ValidateAddress validates an EVM address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: address cannot be empty", yogapay.ErrInvalidAddress)
	}
	if !evmAddressRegex.MatchString(address) {
		return fmt.Errorf("%w: %q (expected 0x followed by 40 hex characters)", yogapay.ErrInvalidAddress, address)
	}
	return nil
}

// ValidateRequirement performs comprehensive validation of a payment
// requirement: amount, network, addresses, scheme, and EIP-712 domain extra.
func ValidateRequirement(req *yogapay.PaymentRequirement) error {
	if req == nil {
		return fmt.Errorf("%w: requirements are nil", yogapay.ErrMissingRequirement)
	}

	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return err
	}

	if _, err := yogapay.ChainByNetwork(req.Network); err != nil {
		return err
	}

	if req.PayTo == "" {
		return fmt.Errorf("%w: payTo", yogapay.ErrMissingRequirement)
	}
	if err := ValidateAddress(req.PayTo); err != nil {
		return fmt.Errorf("payTo: %w", err)
	}

	if req.Asset == "" {
		return fmt.Errorf("%w: asset", yogapay.ErrMissingRequirement)
	}
	if err := ValidateAddress(req.Asset); err != nil {
		return fmt.Errorf("asset: %w", err)
	}

	switch req.Scheme {
	case "exact":
	case "":
		return fmt.Errorf("%w: scheme", yogapay.ErrMissingRequirement)
	default:
		return fmt.Errorf("%w: %s", yogapay.ErrUnsupportedScheme, req.Scheme)
	}

	// When the extra domain parameters are present they must be usable.
	if req.Extra != nil {
		if name, ok := req.Extra["name"]; ok {
			if _, isString := name.(string); !isString {
				return fmt.Errorf("extra.name must be a string")
			}
		}
		if version, ok := req.Extra["version"]; ok {
			if _, isString := version.(string); !isString {
				return fmt.Errorf("extra.version must be a string")
			}
		}
	}

	return nil
}
