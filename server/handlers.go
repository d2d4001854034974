package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/shop"
	"github.com/lotuslabs/yogapay/store"
	"github.com/lotuslabs/yogapay/wallet"
)

// handleSession issues a session token for an account. New accounts get a
// generated id.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get("X-Api-Key") != s.apiKey {
		s.writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	var body struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	account := body.Account
	if account == "" {
		account = uuid.NewString()
	}

	token, expiry, err := s.sessions.Issue(account)
	if err != nil {
		s.log.Error("failed to issue session", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"account":   account,
		"expiresAt": expiry.Unix(),
	})
}

// handleClasses lists the class catalog, serving from the cache unless it is
// stale or forceRefresh is set.
func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	force, _ := strconv.ParseBool(r.URL.Query().Get("forceRefresh"))

	if !force {
		classes, ok, err := s.store.CachedClasses(r.Context(), owner)
		if err != nil {
			s.log.Warn("class cache read failed", zap.Error(err))
		} else if ok {
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"classes":   classes,
				"fromCache": true,
			})
			return
		}
	}

	classes, err := s.shop.BrowseClasses(r.Context())
	if err != nil {
		s.log.Error("failed to browse classes", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "failed to fetch classes from shop")
		return
	}

	if err := s.store.PutCachedClasses(r.Context(), owner, classes); err != nil {
		s.log.Warn("class cache write failed", zap.Error(err))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"classes":   classes,
		"fromCache": false,
	})
}

// handleProducts lists the product catalog, with the same cache behavior as
// handleClasses.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	force, _ := strconv.ParseBool(r.URL.Query().Get("forceRefresh"))

	if !force {
		products, ok, err := s.store.CachedProducts(r.Context(), owner)
		if err != nil {
			s.log.Warn("product cache read failed", zap.Error(err))
		} else if ok {
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"products":  products,
				"fromCache": true,
			})
			return
		}
	}

	products, err := s.shop.BrowseProducts(r.Context())
	if err != nil {
		s.log.Error("failed to browse products", zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "failed to fetch products from shop")
		return
	}

	if err := s.store.PutCachedProducts(r.Context(), owner, products); err != nil {
		s.log.Warn("product cache write failed", zap.Error(err))
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"products":  products,
		"fromCache": false,
	})
}

// handlePurchases lists the account's purchase history.
func (s *Server) handlePurchases(w http.ResponseWriter, r *http.Request) {
	purchases, err := s.store.Purchases(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.log.Error("failed to list purchases", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list purchases")
		return
	}
	if purchases == nil {
		purchases = []store.Purchase{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"purchases": purchases})
}

// handlePreview returns the free preview URL for a class.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "id")

	previewURL, err := s.shop.ClassPreview(r.Context(), classID)
	if err != nil {
		s.log.Error("failed to fetch preview", zap.String("class_id", classID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "failed to fetch class preview")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"previewUrl": previewURL})
}

// handleRequirements returns the payment requirements for a class, or the
// stored content when the account already purchased it.
func (s *Server) handleRequirements(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	classID := chi.URLParam(r, "id")

	if purchase, err := s.store.Purchase(r.Context(), owner, classID); err == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"alreadyPurchased": true,
			"contentUrl":       purchase.ContentURL,
			"txHash":           purchase.TxHash,
		})
		return
	} else if !errors.Is(err, yogapay.ErrNotPurchased) {
		s.log.Error("failed to read purchase", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read purchases")
		return
	}

	access, err := s.shop.ClassFull(r.Context(), classID, "")
	if err != nil {
		s.writeShopError(w, classID, err)
		return
	}

	switch access.Kind {
	case shop.AccessRequirements:
		resp := map[string]interface{}{
			"alreadyPurchased": false,
			"requirements":     access.Requirements,
		}
		// USDC display rendering of the atomic amount, when it parses.
		if display, err := yogapay.FormatAmount(access.Requirements.MaxAmountRequired, 6); err == nil {
			resp["amountUsdc"] = display
		}
		s.writeJSON(w, http.StatusOK, resp)
	case shop.AccessContent:
		// The shop released the content without payment.
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"alreadyPurchased": false,
			"contentUrl":       access.Content.URL,
			"txHash":           access.Content.TxHash,
		})
	default:
		s.writeError(w, http.StatusBadGateway, "unexpected shop response")
	}
}

// handleGetWallet returns the wallet status. The key is always masked.
// Balances come from the chain when a lookup client is configured; a failed
// or disabled lookup yields null balances rather than an error.
func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Wallet(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		s.log.Error("failed to read wallet", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read wallet")
		return
	}

	resp := map[string]interface{}{
		"hasPrivateKey": status.Configured,
		"privateKey":    nil,
		"address":       nil,
		"balance":       nil,
		"usdcBalance":   nil,
	}
	if !status.Configured {
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	resp["privateKey"] = status.MaskedKey
	resp["address"] = status.Address

	if s.balances != nil && status.Address != "" {
		balances, err := s.balances.Lookup(r.Context(), common.HexToAddress(status.Address))
		if err != nil {
			s.log.Warn("balance lookup failed", zap.Error(err))
		} else {
			resp["balance"] = balances.ETH
			resp["usdcBalance"] = balances.USDC
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleContent returns the stored content for a class the account already
// purchased.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	classID := chi.URLParam(r, "id")

	purchase, err := s.store.Purchase(r.Context(), owner, classID)
	if errors.Is(err, yogapay.ErrNotPurchased) {
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"purchased": false,
			"error":     "class not purchased",
		})
		return
	}
	if err != nil {
		s.log.Error("failed to read purchase", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read purchases")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchased":   true,
		"contentUrl":  purchase.ContentURL,
		"classTitle":  purchase.ClassTitle,
		"txHash":      purchase.TxHash,
		"purchasedAt": purchase.PurchasedAt.Format(time.RFC3339),
	})
}

// handlePutWallet stores a signing credential, supplied either as a raw hex
// key or derived from a mnemonic phrase.
func (s *Server) handlePutWallet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PrivateKey   string `json:"privateKey"`
		Mnemonic     string `json:"mnemonic"`
		AccountIndex uint32 `json:"accountIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var (
		normalized string
		err        error
	)
	switch {
	case body.PrivateKey != "" && body.Mnemonic != "":
		s.writeError(w, http.StatusBadRequest, "provide either privateKey or mnemonic, not both")
		return
	case body.PrivateKey != "":
		normalized, err = wallet.Normalize(body.PrivateKey)
	case body.Mnemonic != "":
		normalized, err = wallet.FromMnemonic(body.Mnemonic, body.AccountIndex)
	default:
		s.writeError(w, http.StatusBadRequest, "privateKey or mnemonic is required")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owner := ownerFrom(r.Context())
	if err := s.store.SaveWallet(r.Context(), owner, normalized); err != nil {
		if errors.Is(err, yogapay.ErrInvalidCredential) {
			s.writeError(w, http.StatusBadRequest, "invalid signing credential")
			return
		}
		s.log.Error("failed to save wallet", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to save wallet")
		return
	}

	addr, err := wallet.Address(normalized)
	if err != nil {
		s.log.Error("failed to derive address", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to derive address")
		return
	}

	s.log.Info("wallet configured",
		zap.String("owner", owner),
		zap.String("key", wallet.Mask(normalized)),
		zap.String("address", addr.Hex()),
	)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"privateKey": wallet.Mask(normalized),
		"address":    addr.Hex(),
	})
}

// writeShopError maps upstream shop failures onto API responses.
func (s *Server) writeShopError(w http.ResponseWriter, classID string, err error) {
	switch {
	case shop.IsPaymentRejected(err):
		var rejected *shop.PaymentRejectedError
		errors.As(err, &rejected)
		s.writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": rejected.Message})
	case errors.Is(err, yogapay.ErrNoRequirements):
		s.writeError(w, http.StatusBadGateway, "shop returned no payment requirements")
	default:
		s.log.Error("shop request failed", zap.String("class_id", classID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "shop request failed")
	}
}
