package access

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
)

var testKey *rsa.PrivateKey

func init() {
	var err error
	testKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
}

func publicKeyPEM(t *testing.T) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&testKey.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

type tokenSpec struct {
	subject   string
	name      string
	admin     bool
	expiresAt *jwt.NumericDate
	issuedAt  *jwt.NumericDate
	notBefore *jwt.NumericDate
}

func validSpec() tokenSpec {
	now := time.Now()
	return tokenSpec{
		subject:   "merlin",
		name:      "Merlin",
		admin:     true,
		expiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		issuedAt:  jwt.NewNumericDate(now),
		notBefore: jwt.NewNumericDate(now),
	}
}

func signToken(t *testing.T, spec tokenSpec) string {
	t.Helper()
	claims := Claims{
		Name:  spec.name,
		Admin: spec.admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   spec.subject,
			ExpiresAt: spec.expiresAt,
			IssuedAt:  spec.issuedAt,
			NotBefore: spec.notBefore,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(testKey)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

// testChain builds the middleware around a handler that echoes the
// authenticated identity.
func testChain(t *testing.T, b *OAuth2MiddlewareBuilder) http.Handler {
	t.Helper()
	b.PublicKey = publicKeyPEM(t)
	middleware, err := NewOAuth2Middleware(b)
	if err != nil {
		t.Fatal(err)
	}
	return middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(IdentityFromContext(r.Context())))
	}))
}

func serve(h http.Handler, method, path, authorization string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func errorDescription(t *testing.T, body []byte) string {
	t.Helper()
	var envelope struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatal("response is not an error envelope:", string(body))
	}
	if envelope.Title != "401 Unauthorized" {
		t.Fatal("unexpected title:", envelope.Title)
	}
	return envelope.Description
}

func TestAuthorizationHeaderErrors(t *testing.T) {
	h := testChain(t, &OAuth2MiddlewareBuilder{})

	testCases := []struct {
		name          string
		authorization string
		description   string
	}{
		{"missing header", "", "Missing Authorization Header"},
		{"not bearer", "Basic dXNlcjpwdw==", "Invalid Authorization Header: Must start with Bearer"},
		{"token missing", "Bearer", "Invalid Authorization Header: Token Missing"},
		{"extra content", "Bearer abc def", "Invalid Authorization Header: Contains extra content"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, "/v1/gadgets", tc.authorization)
			if rec.Code != http.StatusUnauthorized {
				t.Fatal("unexpected status:", rec.Code)
			}
			if d := errorDescription(t, rec.Body.Bytes()); d != tc.description {
				t.Fatal("unexpected description:", d)
			}
		})
	}
}

func TestTokenErrors(t *testing.T) {
	h := testChain(t, &OAuth2MiddlewareBuilder{})
	now := time.Now()

	expired := validSpec()
	expired.expiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	noIssuedAt := validSpec()
	noIssuedAt.issuedAt = nil
	noNotBefore := validSpec()
	noNotBefore.notBefore = nil

	hmacToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.RegisteredClaims{Subject: "merlin"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name  string
		token string
	}{
		{"garbage", "not.a.token"},
		{"expired", signToken(t, expired)},
		{"missing iat", signToken(t, noIssuedAt)},
		{"missing nbf", signToken(t, noNotBefore)},
		{"wrong algorithm", hmacToken},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, "/v1/gadgets", "Bearer "+tc.token)
			if rec.Code != http.StatusUnauthorized {
				t.Fatal("unexpected status:", rec.Code)
			}
			d := errorDescription(t, rec.Body.Bytes())
			if !strings.HasPrefix(d, "Error Decoding Token: ") {
				t.Fatal("unexpected description:", d)
			}
		})
	}
}

func TestCredentialErrors(t *testing.T) {
	h := testChain(t, &OAuth2MiddlewareBuilder{})

	noAdmin := validSpec()
	noAdmin.admin = false
	noName := validSpec()
	noName.name = ""
	noSubject := validSpec()
	noSubject.subject = ""

	for _, spec := range []tokenSpec{noAdmin, noName, noSubject} {
		rec := serve(h, http.MethodGet, "/v1/gadgets", "Bearer "+signToken(t, spec))
		if rec.Code != http.StatusUnauthorized {
			t.Fatal("unexpected status:", rec.Code)
		}
		if d := errorDescription(t, rec.Body.Bytes()); d != "Invalid JWT Credentials" {
			t.Fatal("unexpected description:", d)
		}
	}
}

func TestValidToken(t *testing.T) {
	h := testChain(t, &OAuth2MiddlewareBuilder{})

	rec := serve(h, http.MethodPost, "/v1/gadgets", "Bearer "+signToken(t, validSpec()))
	if rec.Code != http.StatusOK {
		t.Fatal("unexpected status:", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "merlin" {
		t.Fatal("identity not in context:", rec.Body.String())
	}
}

func TestExemptions(t *testing.T) {
	h := testChain(t, &OAuth2MiddlewareBuilder{
		ExemptRoutes:  []string{"/v1/potions/describe"},
		ExemptMethods: []string{http.MethodGet},
	})

	// exempt method, no token needed
	rec := serve(h, http.MethodGet, "/v1/gadgets", "")
	if rec.Code != http.StatusOK {
		t.Fatal("unexpected status:", rec.Code)
	}

	// exempt route, regardless of method
	rec = serve(h, http.MethodPost, "/v1/potions/describe", "")
	if rec.Code != http.StatusOK {
		t.Fatal("unexpected status:", rec.Code)
	}

	// everything else still needs a token
	rec = serve(h, http.MethodPost, "/v1/gadgets", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("unexpected status:", rec.Code)
	}

	// the default exemptions are replaced, not extended
	rec = serve(h, http.MethodOptions, "/v1/gadgets", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("unexpected status:", rec.Code)
	}
}
