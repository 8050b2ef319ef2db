package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/sakif/automata/internal/apperror"
	"github.com/sakif/automata/internal/model"
)

// Authenticator checks a username/password pair against the user
// directory. service.UserService satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.User, error)
}

type contextKey string

const userKey contextKey = "user"

// Realm is announced in the WWW-Authenticate header of 401 responses.
const Realm = "automata"

// RequireUser rejects requests without valid HTTP Basic credentials and
// stores the authenticated user in the request context otherwise.
// Credentials are checked on every request; no session or token is issued.
// Only apperror.ErrUnauthorized becomes a 401 challenge; any other
// Authenticate failure is answered with a 500.
func RequireUser(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w)
				return
			}

			user, err := authn.Authenticate(r.Context(), username, password)
			if err != nil {
				if errors.Is(err, apperror.ErrUnauthorized) {
					unauthorized(w)
				} else {
					internalError(w)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user, or (nil, false) for
// anonymous requests.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="`+Realm+`", charset="UTF-8"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"valid credentials required"}`))
}

func internalError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
}
