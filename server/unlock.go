package server

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	yogapay "github.com/lotuslabs/yogapay"
	"github.com/lotuslabs/yogapay/shop"
	"github.com/lotuslabs/yogapay/store"
	"github.com/lotuslabs/yogapay/validation"
)

// handleUnlock runs the full purchase flow for a class:
//
//  1. short-circuit when the account already purchased it
//  2. load the signing credential
//  3. ask the shop for the payment requirements
//  4. validate, authorize and sign the payment
//  5. resubmit with the payment envelope
//  6. record the purchase
//
// A rejected payment is not retried; the client decides whether to try again.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	classID := chi.URLParam(r, "id")

	var body struct {
		ClassTitle string `json:"classTitle"`
		Price      string `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if purchase, err := s.store.Purchase(r.Context(), owner, classID); err == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":          true,
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

	credential, err := s.store.Credential(r.Context(), owner)
	if err != nil {
		if errors.Is(err, yogapay.ErrWalletNotConfigured) {
			s.writeError(w, http.StatusConflict, "wallet not configured")
			return
		}
		s.log.Error("failed to read credential", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to read wallet")
		return
	}

	access, err := s.shop.ClassFull(r.Context(), classID, "")
	if err != nil {
		s.writeShopError(w, classID, err)
		return
	}

	// Free content needs no payment; record it so the account keeps access.
	if access.Kind == shop.AccessContent {
		s.recordAndRespond(w, r, owner, classID, body.ClassTitle, body.Price, "", access.Content)
		return
	}

	requirement := access.Requirements
	if err := validation.ValidateRequirement(requirement); err != nil {
		s.log.Error("shop sent unusable requirements",
			zap.String("class_id", classID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, "shop sent unusable payment requirements")
		return
	}

	if s.maxPayment != nil {
		amount, _ := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
		if amount.Cmp(s.maxPayment) > 0 {
			s.log.Warn("payment exceeds configured limit",
				zap.String("class_id", classID),
				zap.String("amount", requirement.MaxAmountRequired),
			)
			s.writeError(w, http.StatusForbidden, "payment exceeds the configured spending limit")
			return
		}
	}

	envelope, err := s.signer.Authorize(r.Context(), requirement, credential)
	if err != nil {
		s.log.Error("authorization failed", zap.String("class_id", classID), zap.Error(err))
		if errors.Is(err, yogapay.ErrInvalidCredential) {
			s.writeError(w, http.StatusConflict, "stored credential is invalid")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to authorize payment")
		return
	}

	access, err = s.shop.ClassFull(r.Context(), classID, envelope)
	if err != nil {
		s.writeShopError(w, classID, err)
		return
	}
	if access.Kind != shop.AccessContent {
		// Payment was submitted but the shop asked for payment again.
		s.writeError(w, http.StatusBadGateway, "shop did not release content after payment")
		return
	}

	s.recordAndRespond(w, r, owner, classID, body.ClassTitle, body.Price, envelope, access.Content)
}

func (s *Server) recordAndRespond(w http.ResponseWriter, r *http.Request, owner, classID, classTitle, price, envelope string, content *shop.ClassContent) {
	purchase, err := s.store.RecordPurchase(r.Context(), store.Purchase{
		Owner:      owner,
		ClassID:    classID,
		ClassTitle: classTitle,
		Price:      price,
		ContentURL: content.URL,
		TxHash:     content.TxHash,
		XPayment:   envelope,
	})
	if err != nil {
		// The payment settled; losing the row must not hide the content.
		s.log.Error("failed to record purchase",
			zap.String("class_id", classID), zap.Error(err))
	}

	s.log.Info("class unlocked",
		zap.String("owner", owner),
		zap.String("class_id", classID),
		zap.String("tx_hash", content.TxHash),
	)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"contentUrl": content.URL,
		"txHash":     content.TxHash,
		"purchaseId": purchase.ID,
	})
}
