// Package authn implements the Authentication verifier collaborator
// contract from spec §6: `verify(token) -> {subject, audience, scopes}` or
// ErrorKind.AuthInvalid, called once per HTTP request and at WS handshake.
package authn

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	runnererrors "github.com/waldiez/runner/internal/errors"
)

// Identity is the verified principal behind a request.
type Identity struct {
	Subject  string
	Audience string
	Scopes   []string
}

// Verifier is the Authentication verifier contract.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// ExtractToken reads a bearer credential from any of the four channels
// named in §6 for WebSocket handshakes (Authorization header, "tasks-api"
// subprotocol pair, access_token cookie, access_token query param), tried in
// that order. Plain HTTP requests are read the same way.
func ExtractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	for _, proto := range websocketProtocols(r) {
		if proto != "tasks-api" {
			return proto
		}
	}
	if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("access_token")
}

func websocketProtocols(r *http.Request) []string {
	raw := r.Header.Get("Sec-WebSocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// JWTVerifier is the default Verifier implementation: bearer JWTs signed
// with an HMAC key, via golang-jwt/jwt/v5.
type JWTVerifier struct {
	signingKey []byte
}

// NewJWTVerifier constructs a JWTVerifier over the given HMAC signing key.
func NewJWTVerifier(signingKey string) *JWTVerifier {
	return &JWTVerifier{signingKey: []byte(signingKey)}
}

var _ Verifier = (*JWTVerifier)(nil)

type claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, authInvalid(nil)
	}

	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return v.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, authInvalid(err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok {
		return Identity{}, authInvalid(nil)
	}

	audience := ""
	if len(c.Audience) > 0 {
		audience = c.Audience[0]
	}
	return Identity{
		Subject:  c.Subject,
		Audience: audience,
		Scopes:   c.Scopes,
	}, nil
}

func authInvalid(cause error) error {
	return runnererrors.New("authn", "Verify", cause).WithKind(runnererrors.KindAuthInvalid)
}

// NopVerifier accepts every token, including an empty one, as subject "anonymous", used by
// auth_mode=none deployments.
type NopVerifier struct{}

var _ Verifier = NopVerifier{}

// Verify implements Verifier.
func (NopVerifier) Verify(token string) (Identity, error) {
	return Identity{Subject: "anonymous"}, nil
}
