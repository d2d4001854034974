package shop

import (
	"context"
	"errors"
	"fmt"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lotuslabs/yogapay/retry"
)

// MCPShop is a shop client backed by the upstream MCP tool server. The
// yoga shop exposes browse_classes, browse_products, get_class_preview and
// get_class_full as tools; get_class_full carries the X-PAYMENT header value
// as a tool argument.
type MCPShop struct {
	client     *mcpclient.Client
	toolPrefix string
	retryCfg   retry.Config
}

// MCPOption configures an MCPShop.
type MCPOption func(*MCPShop)

// WithToolPrefix sets the platform routing prefix prepended to tool names
// (e.g., "2ac0f83e-27b6-45af-96c4-0c78fa66399c.yogashop/1.0.0/").
func WithToolPrefix(prefix string) MCPOption {
	return func(s *MCPShop) {
		s.toolPrefix = prefix
	}
}

// WithRetryConfig overrides the retry policy for read-only catalog calls.
func WithRetryConfig(cfg retry.Config) MCPOption {
	return func(s *MCPShop) {
		s.retryCfg = cfg
	}
}

// NewMCPShop creates a shop client for the MCP server at serverURL.
// Connect must be called before any other method.
func NewMCPShop(serverURL string, opts ...MCPOption) (*MCPShop, error) {
	baseTransport, err := transport.NewStreamableHTTP(serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP transport: %w", err)
	}

	s := &MCPShop{
		client:   mcpclient.NewClient(baseTransport),
		retryCfg: retry.DefaultConfig,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect starts the MCP session and performs the initialize handshake.
func (s *MCPShop) Connect(ctx context.Context) error {
	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client: %w", err)
	}

	_, err := s.client.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "yogapay",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP session: %w", err)
	}

	return nil
}

// Close tears down the MCP session.
func (s *MCPShop) Close() error {
	return s.client.Close()
}

// BrowseClasses implements API.
func (s *MCPShop) BrowseClasses(ctx context.Context) ([]Class, error) {
	text, err := s.callToolWithRetry(ctx, "browse_classes", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return parseClasses(text)
}

// BrowseProducts implements API.
func (s *MCPShop) BrowseProducts(ctx context.Context) ([]Product, error) {
	text, err := s.callToolWithRetry(ctx, "browse_products", map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return parseProducts(text)
}

// ClassPreview implements API.
func (s *MCPShop) ClassPreview(ctx context.Context, classID string) (string, error) {
	text, err := s.callToolWithRetry(ctx, "get_class_preview", map[string]interface{}{
		"classId": classID,
	})
	if err != nil {
		return "", err
	}
	return parsePreview(text)
}

// ClassFull implements API. Never retried: a resubmitted payment must come
// from a fresh authorization, which is the caller's decision.
func (s *MCPShop) ClassFull(ctx context.Context, classID, xPayment string) (*ClassAccess, error) {
	args := map[string]interface{}{
		"classId": classID,
	}
	if xPayment != "" {
		args["xPayment"] = xPayment
	}

	text, err := s.callTool(ctx, "get_class_full", args)
	if err != nil {
		return nil, err
	}
	return parseClassAccess(text)
}

// callToolWithRetry wraps callTool with backoff for transient transport
// failures on read-only calls.
func (s *MCPShop) callToolWithRetry(ctx context.Context, name string, args map[string]interface{}) ([]byte, error) {
	return retry.Do(ctx, s.retryCfg, isTransient, func() ([]byte, error) {
		return s.callTool(ctx, name, args)
	})
}

// callTool invokes a shop tool and returns its first text content block.
func (s *MCPShop) callTool(ctx context.Context, name string, args map[string]interface{}) ([]byte, error) {
	result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      s.toolPrefix + name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, err)
	}

	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return []byte(text.Text), nil
		}
	}

	return nil, fmt.Errorf("tool %s returned no text content", name)
}

// isTransient treats everything except cancellation as retryable; the
// upstream shop regularly hiccups on cold starts.
func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
