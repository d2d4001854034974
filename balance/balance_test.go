package balance

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	yogapay "github.com/lotuslabs/yogapay"
)

type fakeBackend struct {
	wei    *big.Int
	weiErr error

	usdcRaw []byte
	usdcErr error

	lastCall ethereum.CallMsg
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.wei, f.weiErr
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCall = call
	return f.usdcRaw, f.usdcErr
}

func TestLookupFormatsBalances(t *testing.T) {
	backend := &fakeBackend{
		// 1.5 ETH in wei.
		wei: new(big.Int).Mul(big.NewInt(15), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)),
		// 42.25 USDC in atomic units, as a 32-byte return value.
		usdcRaw: common.LeftPadBytes(big.NewInt(42_250_000).Bytes(), 32),
	}

	c, err := New(backend, "base")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	balances, err := c.Lookup(context.Background(), addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if balances.ETH != "1.5" {
		t.Errorf("expected ETH 1.5, got %q", balances.ETH)
	}
	if balances.USDC != "42.25" {
		t.Errorf("expected USDC 42.25, got %q", balances.USDC)
	}
}

func TestLookupBuildsBalanceOfCall(t *testing.T) {
	backend := &fakeBackend{
		wei:     big.NewInt(0),
		usdcRaw: common.LeftPadBytes(big.NewInt(0).Bytes(), 32),
	}

	c, err := New(backend, "base")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	addr := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if _, err := c.Lookup(context.Background(), addr); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := backend.lastCall
	if call.To == nil || call.To.Hex() != yogapay.BaseMainnet.USDCAddress {
		t.Errorf("balanceOf must target the network's USDC contract, got %v", call.To)
	}

	want := append([]byte{0x70, 0xa0, 0x82, 0x31}, common.LeftPadBytes(addr.Bytes(), 32)...)
	if !bytes.Equal(call.Data, want) {
		t.Errorf("unexpected calldata %x, want %x", call.Data, want)
	}
}

func TestLookupUSDCFailureDegradesToZero(t *testing.T) {
	backend := &fakeBackend{
		wei:     big.NewInt(1_000_000_000_000_000_000),
		usdcErr: errors.New("token node down"),
	}

	c, err := New(backend, "base")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	balances, err := c.Lookup(context.Background(), common.Address{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balances.ETH != "1" || balances.USDC != "0" {
		t.Errorf("expected ETH 1 and USDC 0, got %+v", balances)
	}
}

func TestLookupBalanceFailure(t *testing.T) {
	backend := &fakeBackend{weiErr: errors.New("rpc down")}

	c, err := New(backend, "base")
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	if _, err := c.Lookup(context.Background(), common.Address{}); err == nil {
		t.Fatal("expected error when the native balance read fails")
	}
}

func TestNewRejectsUnknownNetwork(t *testing.T) {
	if _, err := New(&fakeBackend{}, "unknown-chain"); !errors.Is(err, yogapay.ErrUnsupportedNetwork) {
		t.Fatalf("expected ErrUnsupportedNetwork, got %v", err)
	}
}
