package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/originhash-backend/api/responses"
	"github.com/angelmondragon/originhash-backend/api/validators"
	"github.com/angelmondragon/originhash-backend/internal/auth"
	"github.com/angelmondragon/originhash-backend/internal/users"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
)

// AuthRegister creates a student account and signs it in.
func AuthRegister(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return registerHandler(reg, svc, logg, func(ctx context.Context, req auth.RegisterRequest) (*users.UserDTO, error) {
		return reg.Register(ctx, req)
	})
}

// AuthRegisterAdmin creates an issuer account outside production.
func AuthRegisterAdmin(reg auth.RegisterService, svc auth.Service, logg *logger.Logger) http.HandlerFunc {
	return registerHandler(reg, svc, logg, func(ctx context.Context, req auth.RegisterRequest) (*users.UserDTO, error) {
		return reg.RegisterAdmin(ctx, req)
	})
}

func registerHandler(reg auth.RegisterService, svc auth.Service, logg *logger.Logger, create func(context.Context, auth.RegisterRequest) (*users.UserDTO, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reg == nil || svc == nil {
			err := pkgerrors.New(pkgerrors.CodeInternal, "auth service unavailable")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body auth.RegisterRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if _, err := create(r.Context(), body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Login(r.Context(), auth.LoginRequest{Email: body.Email, Password: body.Password})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set(tokenHeader, result.AccessToken)
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
