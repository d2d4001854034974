// Package evm produces signed x402 payment authorizations for EVM chains.
//
// The Authorizer is the core of the payment flow: given the payment
// requirements relayed from a 402 response and the account's signing
// credential, it constructs an EIP-3009 transferWithAuthorization message,
// signs it with EIP-712 typed-data hashing, and encodes the result into the
// base64 envelope carried by the X-PAYMENT header. The whole operation is
// local and offline — one random draw, one clock read, one signature.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/encoding"
	"github.com/lotuslabs/yogapay/validation"
	"github.com/lotuslabs/yogapay/wallet"
)

// AuthorizationWindow is the fixed validity window applied to every
// authorization. It is not caller-configurable: retries go through a fresh
// Authorize call and therefore get a fresh nonce and window.
const AuthorizationWindow = 600 * time.Second

// Authorizer builds signed payment envelopes. The zero-argument constructor
// wires the system clock and CSPRNG; both are injectable for deterministic
// tests. An Authorizer is immutable after construction and safe for
// concurrent use.
type Authorizer struct {
	now   func() time.Time
	nonce func() (common.Hash, error)
}

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) {
		a.now = now
	}
}

// WithNonceSource overrides the nonce source. Production code must leave
// the default in place; anything predictable hands the verifier a replay or
// front-running window.
func WithNonceSource(nonce func() (common.Hash, error)) Option {
	return func(a *Authorizer) {
		a.nonce = nonce
	}
}

// NewAuthorizer creates an Authorizer with the given options.
func NewAuthorizer(opts ...Option) *Authorizer {
	a := &Authorizer{
		now:   time.Now,
		nonce: generateNonce,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authorize produces a transport-ready payment header value from payment
// requirements and a normalized signing credential.
//
// Input validation happens before any randomness is drawn or the signing
// backend is touched: required fields first, then network resolution, then
// credential parsing. Errors are terminal for this call — callers that want
// to retry must call Authorize again to obtain a fresh nonce and window.
func (a *Authorizer) Authorize(ctx context.Context, req *yogapay.PaymentRequirement, credential string) (string, error) {
	if req == nil {
		return "", fmt.Errorf("%w: requirements are nil", yogapay.ErrMissingRequirement)
	}
	if req.PayTo == "" {
		return "", fmt.Errorf("%w: payTo", yogapay.ErrMissingRequirement)
	}
	if err := validation.ValidateAddress(req.PayTo); err != nil {
		return "", fmt.Errorf("payTo: %w", err)
	}
	if req.Asset == "" {
		return "", fmt.Errorf("%w: asset", yogapay.ErrMissingRequirement)
	}
	if err := validation.ValidateAddress(req.Asset); err != nil {
		return "", fmt.Errorf("asset: %w", err)
	}
	if req.MaxAmountRequired == "" {
		return "", fmt.Errorf("%w: maxAmountRequired", yogapay.ErrMissingRequirement)
	}
	if req.Scheme != "" && req.Scheme != "exact" {
		return "", fmt.Errorf("%w: %s", yogapay.ErrUnsupportedScheme, req.Scheme)
	}

	value, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || value.Sign() < 0 {
		return "", fmt.Errorf("%w: %s", yogapay.ErrInvalidAmount, req.MaxAmountRequired)
	}

	chainID, err := yogapay.ChainID(req.Network)
	if err != nil {
		return "", err
	}

	privateKey, err := wallet.ParseKey(credential)
	if err != nil {
		return "", err
	}
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	// The signing backend may be remote in other deployments; honor
	// cancellation before committing to the signature.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	nonce, err := a.nonce()
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate nonce: %v", yogapay.ErrSigningFailed, err)
	}

	now := a.now().Unix()
	auth := &Authorization{
		From:        from,
		To:          common.HexToAddress(req.PayTo),
		Value:       value,
		ValidAfter:  big.NewInt(now),
		ValidBefore: big.NewInt(now + int64(AuthorizationWindow/time.Second)),
		Nonce:       nonce,
	}

	signature, err := signTransferAuthorization(
		privateKey,
		common.HexToAddress(req.Asset),
		chainID,
		auth,
		req.DomainName(),
		req.DomainVersion(),
	)
	if err != nil {
		return "", err
	}

	payload := yogapay.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     req.Network,
		Payload: yogapay.EVMPayload{
			Signature: signature,
			Authorization: yogapay.EVMAuthorization{
				From:        auth.From.Hex(),
				To:          auth.To.Hex(),
				Value:       auth.Value.String(),
				ValidAfter:  auth.ValidAfter.String(),
				ValidBefore: auth.ValidBefore.String(),
				Nonce:       auth.Nonce.Hex(),
			},
		},
	}

	header, err := encoding.EncodePayment(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", yogapay.ErrSigningFailed, err)
	}

	return header, nil
}
