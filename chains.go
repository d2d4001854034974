// Package yogapay provides the shared types, chain registry, and error
// taxonomy for the yoga shop storefront and its x402 payment flow. Payments
// are USDC transfers authorized via EIP-3009 transferWithAuthorization and
// carried as base64-encoded JSON envelopes in the X-PAYMENT header.
package yogapay

import (
	"fmt"
	"math/big"
)

// ChainConfig describes an EVM chain the authorizer can sign for.
type ChainConfig struct {
	// NetworkID is the x402 protocol network identifier (e.g., "base").
	NetworkID string

	// ChainID is the EIP-155 chain id used in the EIP-712 signing domain.
	ChainID int64

	// USDCAddress is the official Circle USDC contract address.
	USDCAddress string

	// USDCDomainName is the token's EIP-712 domain "name" parameter.
	USDCDomainName string

	// USDCDomainVersion is the token's EIP-712 domain "version" parameter.
	USDCDomainVersion string
}

// Supported chain configurations. USDC addresses and domain parameters
// verified against the deployed contracts on 2025-10-28.
var (
	// BaseMainnet is the configuration for Base mainnet.
	BaseMainnet = ChainConfig{
		NetworkID:         "base",
		ChainID:           8453,
		USDCAddress:       "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		USDCDomainName:    "USD Coin",
		USDCDomainVersion: "2",
	}

	// BaseSepolia is the configuration for Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		NetworkID:         "base-sepolia",
		ChainID:           84532,
		USDCAddress:       "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		USDCDomainName:    "USDC",
		USDCDomainVersion: "2",
	}

	// EthereumMainnet is the configuration for Ethereum mainnet.
	EthereumMainnet = ChainConfig{
		NetworkID:         "ethereum",
		ChainID:           1,
		USDCAddress:       "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		USDCDomainName:    "USD Coin",
		USDCDomainVersion: "2",
	}

	// Sepolia is the configuration for the Sepolia testnet.
	Sepolia = ChainConfig{
		NetworkID:         "sepolia",
		ChainID:           11155111,
		USDCAddress:       "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
		USDCDomainName:    "USDC",
		USDCDomainVersion: "2",
	}

	// PolygonMainnet is the configuration for Polygon PoS mainnet.
	PolygonMainnet = ChainConfig{
		NetworkID:         "polygon",
		ChainID:           137,
		USDCAddress:       "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
		USDCDomainName:    "USD Coin",
		USDCDomainVersion: "2",
	}

	// PolygonAmoy is the configuration for the Polygon Amoy testnet.
	PolygonAmoy = ChainConfig{
		NetworkID:         "polygon-amoy",
		ChainID:           80002,
		USDCAddress:       "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
		USDCDomainName:    "USDC",
		USDCDomainVersion: "2",
	}

	// AvalancheMainnet is the configuration for Avalanche C-Chain mainnet.
	AvalancheMainnet = ChainConfig{
		NetworkID:         "avalanche",
		ChainID:           43114,
		USDCAddress:       "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
		USDCDomainName:    "USD Coin",
		USDCDomainVersion: "2",
	}

	// AvalancheFuji is the configuration for the Avalanche Fuji testnet.
	AvalancheFuji = ChainConfig{
		NetworkID:         "avalanche-fuji",
		ChainID:           43113,
		USDCAddress:       "0x5425890298aed601595a70AB815c96711a31Bc65",
		USDCDomainName:    "USD Coin",
		USDCDomainVersion: "2",
	}
)

// chains indexes the supported configurations by network identifier.
var chains = map[string]ChainConfig{
	BaseMainnet.NetworkID:      BaseMainnet,
	BaseSepolia.NetworkID:      BaseSepolia,
	EthereumMainnet.NetworkID:  EthereumMainnet,
	Sepolia.NetworkID:          Sepolia,
	PolygonMainnet.NetworkID:   PolygonMainnet,
	PolygonAmoy.NetworkID:      PolygonAmoy,
	AvalancheMainnet.NetworkID: AvalancheMainnet,
	AvalancheFuji.NetworkID:    AvalancheFuji,
}

// ChainByNetwork returns the chain configuration for a network identifier.
// Unknown networks return ErrUnsupportedNetwork.
func ChainByNetwork(networkID string) (ChainConfig, error) {
	if networkID == "" {
		return ChainConfig{}, fmt.Errorf("%w: network cannot be empty", ErrUnsupportedNetwork)
	}
	chain, ok := chains[networkID]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, networkID)
	}
	return chain, nil
}

// ChainID returns the chain id for a network identifier as a big.Int,
// ready for the EIP-712 domain. Unknown networks return ErrUnsupportedNetwork.
func ChainID(networkID string) (*big.Int, error) {
	chain, err := ChainByNetwork(networkID)
	if err != nil {
		return nil, err
	}
	return big.NewInt(chain.ChainID), nil
}

// Networks returns the supported network identifiers.
func Networks() []string {
	ids := make([]string, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	return ids
}
