// Command yogapayd runs the storefront API server.
//
// Configuration comes from the environment (a .env file is loaded when
// present):
//
//	YOGAPAY_LISTEN_ADDR   listen address (default ":8080")
//	YOGAPAY_DB_PATH       sqlite database path (default "yogapay.db")
//	YOGAPAY_SHOP_MODE     upstream transport, "mcp" or "http" (default "mcp")
//	YOGAPAY_SHOP_URL      upstream shop URL (required)
//	YOGAPAY_TOOL_PREFIX   MCP tool name prefix (optional)
//	YOGAPAY_API_KEY       platform key gating /session (optional)
//	YOGAPAY_SESSION_TTL   session token lifetime (default 24h)
//	YOGAPAY_RPC_URL       chain RPC for wallet balances (optional)
//	YOGAPAY_NETWORK       balance lookup network (default "base")
//	YOGAPAY_MAX_USDC      per-unlock spending cap in USDC (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/auth"
	"github.com/lotuslabs/yogapay/balance"
	"github.com/lotuslabs/yogapay/evm"
	"github.com/lotuslabs/yogapay/server"
	"github.com/lotuslabs/yogapay/shop"
	"github.com/lotuslabs/yogapay/store"
)

type config struct {
	ListenAddr string        `env:"YOGAPAY_LISTEN_ADDR,default=:8080"`
	DBPath     string        `env:"YOGAPAY_DB_PATH,default=yogapay.db"`
	ShopMode   string        `env:"YOGAPAY_SHOP_MODE,default=mcp"`
	ShopURL    string        `env:"YOGAPAY_SHOP_URL,required"`
	ToolPrefix string        `env:"YOGAPAY_TOOL_PREFIX,default="`
	APIKey     string        `env:"YOGAPAY_API_KEY,default="`
	SessionTTL time.Duration `env:"YOGAPAY_SESSION_TTL,default=24h"`
	RPCURL     string        `env:"YOGAPAY_RPC_URL,default="`
	Network    string        `env:"YOGAPAY_NETWORK,default=base"`
	MaxUSDC    string        `env:"YOGAPAY_MAX_USDC,default="`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	shopClient, err := buildShop(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := shopClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	sessions, err := auth.NewManager(auth.WithTTL(cfg.SessionTTL))
	if err != nil {
		return err
	}

	var balances *balance.Client
	if cfg.RPCURL != "" {
		balances, err = balance.Dial(cfg.RPCURL, cfg.Network)
		if err != nil {
			return fmt.Errorf("failed to set up balance lookups: %w", err)
		}
	}

	var maxPayment *big.Int
	if cfg.MaxUSDC != "" {
		atomic, err := yogapay.ParseAmount(cfg.MaxUSDC, 6)
		if err != nil {
			return fmt.Errorf("invalid YOGAPAY_MAX_USDC %q: %w", cfg.MaxUSDC, err)
		}
		maxPayment, _ = new(big.Int).SetString(atomic, 10)
	}

	srv := server.New(server.Config{
		Shop:       shopClient,
		Store:      st,
		Sessions:   sessions,
		Signer:     evm.NewAuthorizer(),
		Logger:     log,
		APIKey:     cfg.APIKey,
		Balances:   balances,
		MaxPayment: maxPayment,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("shop_mode", cfg.ShopMode),
			zap.String("shop_url", cfg.ShopURL),
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// buildShop creates the upstream client for the configured transport.
func buildShop(ctx context.Context, cfg config) (shop.API, error) {
	switch cfg.ShopMode {
	case "mcp":
		s, err := shop.NewMCPShop(cfg.ShopURL, shop.WithToolPrefix(cfg.ToolPrefix))
		if err != nil {
			return nil, err
		}
		if err := s.Connect(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "http":
		return shop.NewHTTPShop(cfg.ShopURL)
	default:
		return nil, fmt.Errorf("unknown shop mode %q (expected mcp or http)", cfg.ShopMode)
	}
}
