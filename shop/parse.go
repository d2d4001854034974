package shop

import (
	"encoding/json"
	"fmt"

	yogapay "github.com/lotuslabs/yogapay"
)

// browsePayload is the shape of the browse_classes / browse_products text
// payloads.
type browsePayload struct {
	Classes  []Class   `json:"classes"`
	Products []Product `json:"products"`
}

// previewPayload is the shape of the get_class_preview text payload.
type previewPayload struct {
	PreviewURL string `json:"preview_url"`
}

// fullPayload is the shape of the get_class_full text payload. On success
// the content fields are set; on failure Error holds either a plain message
// or a JSON-encoded 402 requirements body.
type fullPayload struct {
	ContentURL string          `json:"content_url"`
	TxHash     string          `json:"tx_hash"`
	Error      json.RawMessage `json:"error"`
}

func parseClasses(text []byte) ([]Class, error) {
	var payload browsePayload
	if err := json.Unmarshal(text, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse classes payload: %w", err)
	}
	return payload.Classes, nil
}

func parseProducts(text []byte) ([]Product, error) {
	var payload browsePayload
	if err := json.Unmarshal(text, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse products payload: %w", err)
	}
	return payload.Products, nil
}

func parsePreview(text []byte) (string, error) {
	var payload previewPayload
	if err := json.Unmarshal(text, &payload); err != nil {
		return "", fmt.Errorf("failed to parse preview payload: %w", err)
	}
	return payload.PreviewURL, nil
}

// parseClassAccess decodes a get_class_full payload into a tagged
// ClassAccess. The upstream's error field is inconsistent: sometimes a JSON
// object, sometimes a string containing more JSON, sometimes a bare message.
// All of those shapes are resolved here, once.
func parseClassAccess(text []byte) (*ClassAccess, error) {
	var payload fullPayload
	if err := json.Unmarshal(text, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse class payload: %w", err)
	}

	if len(payload.Error) == 0 || string(payload.Error) == "null" {
		if payload.ContentURL == "" {
			return nil, fmt.Errorf("shop returned neither content nor an error")
		}
		return &ClassAccess{
			Kind: AccessContent,
			Content: &ClassContent{
				URL:    payload.ContentURL,
				TxHash: payload.TxHash,
			},
		}, nil
	}

	return parseErrorPayload(payload.Error)
}

// parseErrorPayload resolves the upstream error field: unwrap one level of
// string encoding if present, then look for a requirements body or a
// rejection message.
func parseErrorPayload(raw json.RawMessage) (*ClassAccess, error) {
	// The error may itself be a JSON-encoded string holding the real body.
	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		if json.Valid([]byte(nested)) {
			return decodeErrorBody([]byte(nested))
		}
		// A string that is not JSON is a plain rejection message.
		return nil, &PaymentRejectedError{Message: nested}
	}

	return decodeErrorBody(raw)
}

// decodeErrorBody interprets an error object: a 402 requirements body when
// it has an accepts array, a rejection otherwise.
func decodeErrorBody(body []byte) (*ClassAccess, error) {
	var errorBody struct {
		Accepts []yogapay.PaymentRequirement `json:"accepts"`
		Message string                       `json:"message"`
		Error   string                       `json:"error"`
	}
	if err := json.Unmarshal(body, &errorBody); err != nil {
		return nil, fmt.Errorf("failed to parse shop error payload: %w", err)
	}

	if len(errorBody.Accepts) > 0 {
		req := errorBody.Accepts[0]
		return &ClassAccess{
			Kind:         AccessRequirements,
			Requirements: &req,
		}, nil
	}

	message := errorBody.Message
	if message == "" {
		message = errorBody.Error
	}
	if message != "" {
		return nil, &PaymentRejectedError{Message: message}
	}

	return nil, yogapay.ErrNoRequirements
}
