package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/xenking/storefront-checkout/internal/storeapi"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

type ownerKey struct{}

// OwnerFrom returns the authenticated owner key, or "".
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// Authenticator binds requests to an owner derived from the caller's bearer
// token. The token itself is never stored; sessions are keyed by its
// HMAC-SHA256 under a server pepper.
type Authenticator struct {
	pepper []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(pepper []byte) *Authenticator {
	return &Authenticator{pepper: pepper}
}

// Owner derives the owner key of token.
func (a *Authenticator) Owner(token string) string {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Middleware rejects requests without a bearer token and stores both the
// owner and the token in the context. The token is forwarded to the store.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearer(r.Header.Get("Authorization"))
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="checkout"`)
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "Please sign in to continue.")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, a.Owner(token))
		ctx = storeapi.WithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerOrIP buckets rate limits by owner when authenticated.
func (a *Authenticator) OwnerOrIP(r *http.Request) string {
	if token, ok := bearer(r.Header.Get("Authorization")); ok {
		return a.Owner(token)
	}
	return httpmiddleware.ClientIP(r)
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
