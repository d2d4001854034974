// Package encoding converts payment data to and from its transport form:
// JSON serialized and base64 encoded (standard alphabet, with padding),
// suitable for direct use as an X-PAYMENT header value.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	yogapay "github.com/lotuslabs/yogapay"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string.
func EncodePayment(payment yogapay.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts a base64-encoded JSON string to a PaymentPayload.
func DecodePayment(encoded string) (yogapay.PaymentPayload, error) {
	var payment yogapay.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("%w: %v", yogapay.ErrMalformedHeader, err)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("%w: %v", yogapay.ErrMalformedHeader, err)
	}

	return payment, nil
}

// DecodeRequirements parses a 402 response body into a
// PaymentRequirementsResponse.
func DecodeRequirements(body []byte) (yogapay.PaymentRequirementsResponse, error) {
	var requirements yogapay.PaymentRequirementsResponse
	if err := json.Unmarshal(body, &requirements); err != nil {
		return requirements, fmt.Errorf("failed to parse payment requirements: %w", err)
	}
	return requirements, nil
}
