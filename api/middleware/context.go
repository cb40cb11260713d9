package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/originhash-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
	ctxEmail  contextKey = "actor_email"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

func EmailFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxEmail).(string); ok {
		return v
	}
	return ""
}

// Actor is the authenticated caller as seen by controllers.
type Actor struct {
	UserID uuid.UUID
	Email  string
	Role   enums.UserRole
}

// ActorFromContext reports false when the request carries no valid identity.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	id, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, false
	}
	role, err := enums.ParseUserRole(RoleFromContext(ctx))
	if err != nil {
		return Actor{}, false
	}
	return Actor{UserID: id, Email: EmailFromContext(ctx), Role: role}, true
}

// WithActor injects the caller identity into the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxUserID, actor.UserID.String())
	ctx = context.WithValue(ctx, ctxRole, string(actor.Role))
	return context.WithValue(ctx, ctxEmail, actor.Email)
}
