package auth

import (
	"github.com/angelmondragon/originhash-backend/internal/users"
)

// LoginRequest captures the user credentials sent to the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse contains the access token and the signed-in user.
type LoginResponse struct {
	AccessToken string         `json:"accessToken"`
	TokenType   string         `json:"tokenType"`
	ExpiresIn   int64          `json:"expiresIn"`
	User        *users.UserDTO `json:"user"`
}

// RegisterRequest contains the payload required to create an account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,min=2,max=200"`
	Password string `json:"password" validate:"required,min=8"`
}
