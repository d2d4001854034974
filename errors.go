package yogapay

import "errors"

// Standard error definitions shared across the payment flow.

var (
	// ErrInvalidCredential indicates a private key that is malformed or not a
	// valid curve scalar.
	ErrInvalidCredential = errors.New("invalid signing credential")

	// ErrInvalidKeyLength indicates a private key of the wrong length.
	ErrInvalidKeyLength = errors.New("invalid private key length")

	// ErrInvalidKeyHex indicates a private key containing non-hex characters.
	ErrInvalidKeyHex = errors.New("private key is not valid hexadecimal")

	// ErrUnsupportedNetwork indicates a network the authorizer cannot resolve
	// to a chain id.
	ErrUnsupportedNetwork = errors.New("unsupported network")

	// ErrInvalidAddress indicates a malformed EVM address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrMissingRequirement indicates a payment requirement with a required
	// field absent.
	ErrMissingRequirement = errors.New("missing payment requirement field")

	// ErrUnsupportedScheme indicates a payment scheme other than "exact".
	ErrUnsupportedScheme = errors.New("unsupported payment scheme")

	// ErrInvalidAmount indicates a malformed payment amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrSigningFailed indicates a failure in the signing backend.
	ErrSigningFailed = errors.New("signing failed")

	// ErrMalformedHeader indicates a malformed X-PAYMENT header value.
	ErrMalformedHeader = errors.New("malformed payment header")

	// ErrWalletNotConfigured indicates no signing credential is stored for
	// the account.
	ErrWalletNotConfigured = errors.New("wallet not configured")

	// ErrNoRequirements indicates the upstream 402 payload carried no usable
	// payment requirements.
	ErrNoRequirements = errors.New("no payment requirements found")

	// ErrNotPurchased indicates content was requested for a class the
	// account has not unlocked.
	ErrNotPurchased = errors.New("class not purchased")
)
