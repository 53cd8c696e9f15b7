/*Package access provides the OAuth2 bearer-token gate in front of the API.

Java-Web-Tokens (JWT) signed with RS256 are accepted as
"Authorization: Bearer" header. The middleware either lets a request
through unchanged or short-circuits with 401, before any resource
handler runs. Each failure mode has a distinct description so clients
can disambiguate.
*/
package access

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/potionlabs/potionshop/core"
	"github.com/potionlabs/potionshop/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyIdentity contextKey = "_identity_"

// ContextWithIdentity returns a new context with the authenticated identity added to it
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context,
// or the empty string for unauthenticated requests.
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

// Claims are the token claims this API cares about, on top of the
// registered JWT claims.
type Claims struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// OAuth2MiddlewareBuilder is a helper builder for the OAuth2 middleware
type OAuth2MiddlewareBuilder struct {
	// PublicKey is the PEM-encoded RSA public key used to verify token
	// signatures. This is mandatory.
	PublicKey []byte
	// ExemptRoutes are request paths that pass without a token
	ExemptRoutes []string
	// ExemptMethods are HTTP methods that pass without a token.
	// Defaults to HEAD and OPTIONS.
	ExemptMethods []string
}

// NewOAuth2Middleware returns a middleware handler that validates JWT
// bearer tokens against the builder's public key.
//
// A request is rejected with 401 unless its token decodes, carries the
// exp, iat and nbf claims, has non-empty sub and name claims, and has
// the admin claim set to true.
func NewOAuth2Middleware(b *OAuth2MiddlewareBuilder) (mux.MiddlewareFunc, error) {
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(b.PublicKey)
	if err != nil {
		return nil, err
	}

	exemptRoutes := map[string]bool{}
	for _, route := range b.ExemptRoutes {
		exemptRoutes[strings.ToLower(route)] = true
	}
	exemptMethods := map[string]bool{}
	methods := b.ExemptMethods
	if len(methods) == 0 {
		methods = []string{http.MethodHead, http.MethodOptions}
	}
	for _, method := range methods {
		exemptMethods[strings.ToLower(method)] = true
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptRoutes[strings.ToLower(r.URL.Path)] || exemptMethods[strings.ToLower(r.Method)] {
				h.ServeHTTP(w, r)
				return
			}

			tokenString, description := tokenFromHeader(r.Header.Get("Authorization"))
			if description != "" {
				unauthorized(w, description)
				return
			}

			claims, description := decodeToken(tokenString, publicKey)
			if description != "" {
				unauthorized(w, description)
				return
			}

			if claims.Subject == "" || claims.Name == "" || !claims.Admin {
				unauthorized(w, "Invalid JWT Credentials")
				return
			}

			logger.FromContext(r.Context()).Debugln("authenticated request for", claims.Subject)
			r = r.WithContext(ContextWithIdentity(r.Context(), claims.Subject))
			h.ServeHTTP(w, r)
		})
	}, nil
}

// tokenFromHeader parses the bearer token out of the Authorization
// header. The returned description is empty on success.
func tokenFromHeader(header string) (token, description string) {
	if header == "" {
		return "", "Missing Authorization Header"
	}
	parts := strings.Fields(header)
	if strings.ToLower(parts[0]) != "bearer" {
		return "", "Invalid Authorization Header: Must start with Bearer"
	}
	if len(parts) == 1 {
		return "", "Invalid Authorization Header: Token Missing"
	}
	if len(parts) > 2 {
		return "", "Invalid Authorization Header: Contains extra content"
	}
	return parts[1], ""
}

// decodeToken verifies the token signature and the required registered
// claims. The returned description is empty on success.
func decodeToken(tokenString string, publicKey *rsa.PublicKey) (*Claims, string) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	token, err := parser.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return publicKey, nil })
	if err != nil {
		return nil, "Error Decoding Token: " + err.Error()
	}
	if !token.Valid {
		return nil, "Error Decoding Token: token is invalid"
	}
	// exp, iat and nbf are mandatory for this API
	if claims.ExpiresAt == nil || claims.IssuedAt == nil || claims.NotBefore == nil {
		return nil, "Error Decoding Token: missing required claim"
	}
	return claims, ""
}

func unauthorized(w http.ResponseWriter, description string) {
	core.WriteError(w, http.StatusUnauthorized, "401 Unauthorized", description)
}
