// Package server exposes the storefront over HTTP: session issuance, cached
// catalog browsing, wallet configuration, and the class unlock flow that
// drives the payment authorizer.
package server

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lotuslabs/yogapay/auth"
	"github.com/lotuslabs/yogapay/balance"
	"github.com/lotuslabs/yogapay/evm"
	"github.com/lotuslabs/yogapay/shop"
	"github.com/lotuslabs/yogapay/store"
)

// Server wires the storefront handlers together. Construct with New and
// mount Handler on an http.Server.
type Server struct {
	shop     shop.API
	store    *store.Store
	sessions *auth.Manager
	signer   *evm.Authorizer
	balances *balance.Client
	log      *zap.Logger

	// apiKey gates session issuance. Empty disables the check, for local
	// development.
	apiKey string

	// maxPayment caps the atomic amount unlock will sign for. Nil means no
	// cap.
	maxPayment *big.Int
}

// Config collects the server's collaborators.
type Config struct {
	Shop     shop.API
	Store    *store.Store
	Sessions *auth.Manager
	Signer   *evm.Authorizer
	Logger   *zap.Logger
	APIKey   string

	// Balances enables on-chain balances in the wallet status. Nil disables
	// the lookups.
	Balances *balance.Client

	// MaxPayment caps unlock payments, in atomic units. Nil means no cap.
	MaxPayment *big.Int
}

// New creates a Server.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	signer := cfg.Signer
	if signer == nil {
		signer = evm.NewAuthorizer()
	}
	return &Server{
		shop:       cfg.Shop,
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		signer:     signer,
		balances:   cfg.Balances,
		log:        log,
		apiKey:     cfg.APIKey,
		maxPayment: cfg.MaxPayment,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/classes", s.handleClasses)
		r.Get("/products", s.handleProducts)
		r.Get("/purchases", s.handlePurchases)
		r.Get("/classes/{id}/preview", s.handlePreview)
		r.Get("/classes/{id}/requirements", s.handleRequirements)
		r.Get("/classes/{id}/content", s.handleContent)
		r.Post("/classes/{id}/unlock", s.handleUnlock)
		r.Get("/wallet", s.handleGetWallet)
		r.Put("/wallet", s.handlePutWallet)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
