// Package shop talks to the upstream yoga shop: catalog browsing, class
// previews, and the payment-gated full-content endpoint. Two transports are
// supported — the shop's MCP tool server and a plain HTTP x402 API — behind
// one interface.
//
// The upstream wraps 402 payment requirements in a JSON-in-JSON error
// payload of inconsistent shape. That payload is decoded exactly once, at
// this boundary, into a tagged ClassAccess value; nothing above this package
// re-parses upstream errors.
package shop

import (
	"context"
	"errors"
	"fmt"

	yogapay "github.com/lotuslabs/yogapay"
)

// Class is a catalog entry for a yoga class.
type Class struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
}

// Product is a catalog entry for a physical product.
type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PriceDisplay string `json:"price_display"`
}

// ClassContent is the unlocked payload for a purchased class.
type ClassContent struct {
	URL    string `json:"content_url"`
	TxHash string `json:"tx_hash"`
}

// AccessKind discriminates a ClassAccess value.
type AccessKind int

const (
	// AccessRequirements means payment is required; Requirements is set.
	AccessRequirements AccessKind = iota

	// AccessContent means the content was released; Content is set.
	AccessContent
)

// ClassAccess is the decoded outcome of a full-content request. Exactly one
// of Requirements or Content is populated, according to Kind.
type ClassAccess struct {
	Kind         AccessKind
	Requirements *yogapay.PaymentRequirement
	Content      *ClassContent
}

// PaymentRejectedError reports that the shop refused a submitted payment.
// The upstream message is carried verbatim.
type PaymentRejectedError struct {
	Message string
}

func (e *PaymentRejectedError) Error() string {
	return fmt.Sprintf("payment rejected by shop: %s", e.Message)
}

// API is the upstream shop boundary.
type API interface {
	// BrowseClasses lists available classes.
	BrowseClasses(ctx context.Context) ([]Class, error)

	// BrowseProducts lists available products.
	BrowseProducts(ctx context.Context) ([]Product, error)

	// ClassPreview returns the free preview URL for a class.
	ClassPreview(ctx context.Context, classID string) (string, error)

	// ClassFull requests the full content for a class. With an empty
	// xPayment it returns the payment requirements; with a valid payment
	// header it returns the content. A rejected payment surfaces as a
	// *PaymentRejectedError; a 402 payload with no usable requirements
	// surfaces as ErrNoRequirements.
	ClassFull(ctx context.Context, classID, xPayment string) (*ClassAccess, error)
}

// IsPaymentRejected reports whether err is an upstream payment rejection.
func IsPaymentRejected(err error) bool {
	var rejected *PaymentRejectedError
	return errors.As(err, &rejected)
}
