package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/originhash-backend/api/responses"
	"github.com/angelmondragon/originhash-backend/api/validators"
	"github.com/angelmondragon/originhash-backend/internal/verification"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

type verifyRequest struct {
	UniqueID string `json:"uniqueId" validate:"required,uniqueid"`
}

type paymentRequest struct {
	UniqueID    string `json:"uniqueId" validate:"required,uniqueid"`
	CardNumber  string `json:"cardNumber" validate:"required,cardnumber"`
	ExpiryMonth string `json:"expiryMonth" validate:"required"`
	ExpiryYear  string `json:"expiryYear" validate:"required"`
	CVCode      string `json:"cvCode" validate:"required"`
}

// VerifyCertificate returns the public preview for an identifier.
func VerifyCertificate(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		var body verifyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		preview, err := svc.VerifyByIdentifier(r.Context(), body.UniqueID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, preview)
	}
}

// ConfirmPayment charges the verification fee and runs upload and anchoring.
func ConfirmPayment(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		var body paymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithCertificate(ctx, body.UniqueID)
		}

		result, err := svc.ConfirmPaymentAndAnchor(ctx, verification.PaymentInput{
			UniqueID:    body.UniqueID,
			CardNumber:  validators.NormalizeCardNumber(body.CardNumber),
			ExpiryMonth: body.ExpiryMonth,
			ExpiryYear:  body.ExpiryYear,
			CVCode:      body.CVCode,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// BlockchainStatus reconciles the stored content id with the ledger.
func BlockchainStatus(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		status, err := svc.QueryLedgerStatus(r.Context(), chi.URLParam(r, "uniqueId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}
