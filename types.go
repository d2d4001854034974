package yogapay

import (
	"github.com/shopspring/decimal"
)

// PaymentRequirement represents a single payment option from a 402 response.
// The upstream shop relays these verbatim; every field needed to rebuild the
// EIP-712 signing domain must be present or have a safe default.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier (always "exact" for this flow).
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier (e.g., "base", "base-sepolia").
	Network string `json:"network"`

	// MaxAmountRequired is the payment amount in atomic units, as a base-10
	// integer string. Amounts must round-trip exactly; never a JSON number.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the ERC-20 token contract address to transfer.
	Asset string `json:"asset"`

	// PayTo is the recipient address for the payment.
	PayTo string `json:"payTo"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is an optional human-readable payment description.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType,omitempty"`

	// MaxTimeoutSeconds is the validity period suggested by the server.
	// The authorizer ignores it and applies its own fixed window.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// Extra carries scheme-specific data; for EVM chains this holds the
	// EIP-712 domain "name" and "version" of the token contract.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// DomainName returns the EIP-712 domain name for the requirement's token,
// defaulting to "USD Coin" when the server omitted it.
func (r *PaymentRequirement) DomainName() string {
	if r.Extra != nil {
		if name, ok := r.Extra["name"].(string); ok && name != "" {
			return name
		}
	}
	return "USD Coin"
}

// DomainVersion returns the EIP-712 domain version for the requirement's
// token, defaulting to "2" when the server omitted it.
func (r *PaymentRequirement) DomainVersion() string {
	if r.Extra != nil {
		if version, ok := r.Extra["version"].(string); ok && version != "" {
			return version
		}
	}
	return "2"
}

// PaymentRequirementsResponse represents the complete 402 response body.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable error message.
	Error string `json:"error"`

	// Accepts is an array of payment options the server will accept.
	Accepts []PaymentRequirement `json:"accepts"`
}

// PaymentPayload represents a signed payment sent to the resource server.
// Its base64-encoded JSON serialization is the X-PAYMENT header value.
type PaymentPayload struct {
	// X402Version is the protocol version (currently 1).
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme identifier.
	Scheme string `json:"scheme"`

	// Network is the blockchain network identifier.
	Network string `json:"network"`

	// Payload contains the signed EIP-3009 payment data.
	Payload EVMPayload `json:"payload"`
}

// EVMPayload represents an EVM payment with EIP-3009 authorization.
type EVMPayload struct {
	// Signature is the hex-encoded 65-byte ECDSA signature (r||s||v).
	Signature string `json:"signature"`

	// Authorization contains the transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization represents EIP-3009 transferWithAuthorization parameters.
// All numeric fields are decimal strings to avoid precision loss on 256-bit
// integers.
type EVMAuthorization struct {
	// From is the payer's address, derived from the signing credential.
	From string `json:"from"`

	// To is the recipient's address.
	To string `json:"to"`

	// Value is the payment amount in atomic units.
	Value string `json:"value"`

	// ValidAfter is the unix timestamp after which the authorization is valid.
	ValidAfter string `json:"validAfter"`

	// ValidBefore is the unix timestamp before which the authorization is valid.
	ValidBefore string `json:"validBefore"`

	// Nonce is a unique 32-byte hex string preventing replay.
	Nonce string `json:"nonce"`
}

// FormatAmount converts an atomic-unit amount string to a human-readable
// decimal string. For example, "1500000" with 6 decimals becomes "1.5".
func FormatAmount(amount string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", ErrInvalidAmount
	}
	return d.Shift(-decimals).String(), nil
}

// ParseAmount converts a human-readable decimal amount to an atomic-unit
// integer string. For example, "1.5" with 6 decimals becomes "1500000".
// Returns an error when the amount has more precision than the token.
func ParseAmount(amount string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", ErrInvalidAmount
	}
	shifted := d.Shift(decimals)
	if !shifted.IsInteger() {
		return "", ErrInvalidAmount
	}
	return shifted.String(), nil
}
