package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/model"
)

// SessionValidator resolves a session token to its member. The auth service
// implements it; the gate does not know about stores.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*model.Member, error)
}

// contextKey is unexported so no other package can collide with our keys.
type contextKey string

const identityKey contextKey = "identity"

// identity is what the gate leaves in the request context. err is set when
// the request is anonymous, either because there was no usable cookie
// (Unauthorized) or because the lookup itself failed (StoreUnavailable).
type identity struct {
	member *model.Member
	token  string
	err    error
}

// Gate resolves the session cookie, when there is one, and attaches the
// member to the request context.
//
// HOW IT WORKS:
//  1. Read the session cookie (cookies.Name)
//  2. Resolve the token through v.ValidateSession
//  3. Store the member and token (or the failure) in the request context
//  4. Call the next handler
//
// It never rejects: unprotected operations (sign-up, sign-in) must get
// through without a cookie. Protected code calls Require, or sits behind
// RequireAuth.
//
// USAGE IN ROUTER:
//
//	r.With(auth.Gate(authService, cookies, logger)).Post("/graphql", dispatcher.ServeHTTP)
func Gate(v SessionValidator, cookies CookieConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity{err: apperror.Unauthorized()}

			if c, err := r.Cookie(cookies.Name); err == nil && c.Value != "" {
				member, err := v.ValidateSession(r.Context(), c.Value)
				switch {
				case err == nil:
					id = identity{member: member, token: c.Value}
				case errors.Is(err, apperror.ErrUnauthorized):
					logger.Debug("session cookie rejected", "path", r.URL.Path)
				default:
					logger.Error("validating session", "error", err)
					id.err = err
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests the gate could not authenticate. It must be
// mounted after Gate.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := Require(r.Context()); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, apperror.ErrStoreUnavailable) {
				status = http.StatusServiceUnavailable
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"errors":[{"message":"` + rejectMessage(err) + `","extensions":{"code":"` + apperror.Code(err) + `"}}]}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require returns the authenticated member or the reason there is none.
// A context that never went through Gate is treated as anonymous.
func Require(ctx context.Context) (*model.Member, error) {
	id, ok := ctx.Value(identityKey).(identity)
	if !ok {
		return nil, apperror.Unauthorized()
	}
	if id.member == nil {
		if id.err == nil {
			return nil, apperror.Unauthorized()
		}
		return nil, id.err
	}
	return id.member, nil
}

// MemberFromContext returns the authenticated member, if any.
func MemberFromContext(ctx context.Context) (*model.Member, bool) {
	id, ok := ctx.Value(identityKey).(identity)
	return id.member, ok && id.member != nil
}

// SessionTokenFromContext returns the token the member authenticated with.
// Sign-out needs it to know which session to delete.
func SessionTokenFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey).(identity)
	return id.token, ok && id.token != ""
}

// WithMember returns a context that looks authenticated. Used by tests and
// by flows that sign a member in mid-request.
func WithMember(ctx context.Context, member *model.Member, token string) context.Context {
	return context.WithValue(ctx, identityKey, identity{member: member, token: token})
}

// rejectMessage is the client-facing text for err. Store errors carry driver
// detail, so they are replaced with a fixed message.
func rejectMessage(err error) string {
	if errors.Is(err, apperror.ErrStoreUnavailable) {
		return "Service temporarily unavailable"
	}
	return "Not authorized"
}
