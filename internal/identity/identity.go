// Package identity verifies bearer credentials and carries the caller's
// user ID through request contexts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserHeaderName carries the user ID in development mode, when no credential is required.
const UserHeaderName = "X-User-ID"

// ErrUnauthorized is returned for a missing, malformed, expired or forged credential.
var ErrUnauthorized = errors.New("identity: unauthorized")

type contextKey int

const userIDKey contextKey = iota

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// Claims are the JWT claims the service understands. UserID takes precedence
// over the registered subject.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier returns nil when secret is empty.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Verify checks the token and returns the user ID it was issued to.
func (v *Verifier) Verify(token string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w: no verifier configured", ErrUnauthorized)
	}
	if token == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if !userIDPattern.MatchString(userID) {
		return "", fmt.Errorf("%w: invalid user id in token", ErrUnauthorized)
	}
	return userID, nil
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter for WebSocket clients that cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func devUserID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(UserHeaderName))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("userId"))
	}
	if !userIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// Middleware resolves the caller's identity. A presented token must verify.
// Without a token the request is rejected when required is set; otherwise the
// development user header is trusted, and the request may proceed anonymously.
func Middleware(v *Verifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string
			if token := TokenFromRequest(r); token != "" && v != nil {
				id, err := v.Verify(token)
				if err != nil {
					unauthorized(w)
					return
				}
				userID = id
			} else if required {
				unauthorized(w)
				return
			} else {
				userID = devUserID(r)
			}

			if userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
