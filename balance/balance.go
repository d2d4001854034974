// Package balance reads on-chain ETH and USDC balances for the wallet
// status display. Lookups go through a JSON-RPC endpoint; the server treats
// the whole feature as optional and degrades to null balances when the
// endpoint is absent or failing.
package balance

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	yogapay "github.com/lotuslabs/yogapay"
)

// balanceOfSelector is the 4-byte selector of ERC-20 balanceOf(address).
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// Backend is the subset of ethclient.Client the lookups need.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Balances holds display-formatted balances for one address.
type Balances struct {
	// ETH is the native balance in ether.
	ETH string

	// USDC is the token balance in whole USDC.
	USDC string
}

// Client looks up balances on one configured network.
type Client struct {
	backend Backend
	chain   yogapay.ChainConfig
}

// Dial connects to a JSON-RPC endpoint for the given network.
func Dial(rpcURL, network string) (*Client, error) {
	chain, err := yogapay.ChainByNetwork(network)
	if err != nil {
		return nil, err
	}

	backend, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	return &Client{backend: backend, chain: chain}, nil
}

// New creates a Client over an existing backend.
func New(backend Backend, network string) (*Client, error) {
	chain, err := yogapay.ChainByNetwork(network)
	if err != nil {
		return nil, err
	}
	return &Client{backend: backend, chain: chain}, nil
}

// Lookup returns the display-formatted ETH and USDC balances for addr at the
// latest block. A failed USDC read reports "0" rather than failing the whole
// lookup, since token nodes flake independently of the native balance.
func (c *Client) Lookup(ctx context.Context, addr common.Address) (Balances, error) {
	wei, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return Balances{}, fmt.Errorf("failed to read balance: %w", err)
	}

	eth, err := yogapay.FormatAmount(wei.String(), 18)
	if err != nil {
		return Balances{}, err
	}

	usdc := "0"
	if raw, err := c.usdcBalance(ctx, addr); err == nil {
		if formatted, err := yogapay.FormatAmount(raw.String(), 6); err == nil {
			usdc = formatted
		}
	}

	return Balances{ETH: eth, USDC: usdc}, nil
}

// usdcBalance calls balanceOf(addr) on the network's USDC contract.
func (c *Client) usdcBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	token := common.HexToAddress(c.chain.USDCAddress)
	data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(addr.Bytes(), 32)...)

	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}
