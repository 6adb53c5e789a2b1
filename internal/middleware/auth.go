package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// principalKey is the context key for the authenticated caller.
const principalKey contextKey = "principal"

// codeUnauthenticated is returned for missing or invalid tokens, before any
// tenant is known.
const codeUnauthenticated = "UNAUTHENTICATED"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	if h, ok := ctx.Value(holderKey).(*principalHolder); ok {
		h.userID = p.UserID
	}
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom extracts the authenticated caller from the context.
func PrincipalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// bearerToken parses an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", auth.ErrMissingToken
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", auth.ErrInvalidToken
	}
	return parts[1], nil
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

// Authenticate validates the bearer token of every request and stores the
// resolved principal in the request context.
func Authenticate(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, err.Error())
				return
			}
			p, err := jwtManager.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, auth.ErrInvalidToken.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Require rejects callers whose role does not grant op. It must run after
// Authenticate.
func Require(op auth.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, auth.ErrMissingToken.Error())
				return
			}
			if !p.Can(op) {
				e := apperr.Forbidden(string(op))
				writeError(w, apperr.HTTPStatus(e.Code), string(e.Code), e.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns a Connect interceptor that validates the bearer token
// and requires the caller's role to grant op.
func RequireAuth(jwtManager *auth.JWTManager, op auth.Operation) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			token, err := bearerToken(req.Header().Get("Authorization"))
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}
			p, err := jwtManager.Validate(token)
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}
			if !p.Can(op) {
				return nil, connect.NewError(connect.CodePermissionDenied, apperr.Forbidden(string(op)))
			}
			return next(WithPrincipal(ctx, p), req)
		}
	}
}
