package shop

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/encoding"
	"github.com/lotuslabs/yogapay/retry"
)

// PaymentHeader is the request header carrying the payment envelope.
const PaymentHeader = "X-PAYMENT"

// HTTPShop is a shop client for upstreams exposing the catalog as a plain
// HTTP x402 API: the full-content endpoint answers 402 with a requirements
// body until a valid payment envelope arrives in the X-PAYMENT header.
type HTTPShop struct {
	baseURL  string
	client   *http.Client
	retryCfg retry.Config
}

// HTTPOption configures an HTTPShop.
type HTTPOption func(*HTTPShop)

// WithHTTPClient sets a custom underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPShop) {
		s.client = client
	}
}

// WithHTTPRetryConfig overrides the retry policy for read-only catalog calls.
func WithHTTPRetryConfig(cfg retry.Config) HTTPOption {
	return func(s *HTTPShop) {
		s.retryCfg = cfg
	}
}

// NewHTTPShop creates a shop client for the API rooted at baseURL.
func NewHTTPShop(baseURL string, opts ...HTTPOption) (*HTTPShop, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid shop URL: %w", err)
	}

	s := &HTTPShop{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   http.DefaultClient,
		retryCfg: retry.DefaultConfig,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BrowseClasses implements API.
func (s *HTTPShop) BrowseClasses(ctx context.Context) ([]Class, error) {
	body, err := s.getWithRetry(ctx, "/classes")
	if err != nil {
		return nil, err
	}
	return parseClasses(body)
}

// BrowseProducts implements API.
func (s *HTTPShop) BrowseProducts(ctx context.Context) ([]Product, error) {
	body, err := s.getWithRetry(ctx, "/products")
	if err != nil {
		return nil, err
	}
	return parseProducts(body)
}

// ClassPreview implements API.
func (s *HTTPShop) ClassPreview(ctx context.Context, classID string) (string, error) {
	body, err := s.getWithRetry(ctx, "/classes/"+url.PathEscape(classID)+"/preview")
	if err != nil {
		return "", err
	}
	return parsePreview(body)
}

// ClassFull implements API. A 402 response is decoded into requirements; a
// 200 response into content. Never retried.
func (s *HTTPShop) ClassFull(ctx context.Context, classID, xPayment string) (*ClassAccess, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/classes/"+url.PathEscape(classID)+"/full", nil)
	if err != nil {
		return nil, err
	}
	if xPayment != "" {
		req.Header.Set(PaymentHeader, xPayment)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shop request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read shop response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return parseClassAccess(body)

	case http.StatusPaymentRequired:
		requirements, err := encoding.DecodeRequirements(body)
		if err != nil {
			return nil, err
		}
		if len(requirements.Accepts) == 0 {
			return nil, yogapay.ErrNoRequirements
		}

		// A renewed 402 on a request that carried payment is a rejection.
		if xPayment != "" {
			message := requirements.Error
			if message == "" {
				message = "payment not accepted"
			}
			return nil, &PaymentRejectedError{Message: message}
		}

		req := requirements.Accepts[0]
		return &ClassAccess{
			Kind:         AccessRequirements,
			Requirements: &req,
		}, nil

	default:
		return nil, fmt.Errorf("shop returned unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// getWithRetry performs a read-only GET with backoff on transient failures.
func (s *HTTPShop) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	return retry.Do(ctx, s.retryCfg, isTransient, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
		if err != nil {
			return nil, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("shop request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("shop returned status %d for %s", resp.StatusCode, path)
		}

		return io.ReadAll(resp.Body)
	})
}
