package integration

import (
	"maps"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer signs HS256 JWTs with a shared secret.
type tokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:   []byte("integration-signing-secret-0123456789"),
		issuer:   "https://auth.test.answerdesk.dev",
		audience: "answerdesk-test",
	}
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now, now.Add(1*time.Hour), ti.secret)
}

// GenerateExpiredToken creates a JWT token that expired in the past.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-1*time.Hour), ti.secret)
}

// GenerateForeignToken creates an otherwise valid token signed with a
// secret the server does not know.
func (ti *tokenIssuer) GenerateForeignToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now, now.Add(1*time.Hour), []byte("some-other-secret"))
}

func (ti *tokenIssuer) sign(claims TestClaims, iat, exp time.Time, secret []byte) string {
	mapClaims := jwt.MapClaims{
		"iss":   ti.issuer,
		"aud":   ti.audience,
		"iat":   jwt.NewNumericDate(iat),
		"exp":   jwt.NewNumericDate(exp),
		"sub":   claims.SubjectID,
		"email": claims.Email,
	}

	if len(claims.Roles) > 0 {
		// Store as []any to match JWT decode behavior.
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}

	maps.Copy(mapClaims, claims.Extra)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims).SignedString(secret)
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}

// Issuer returns the expected token issuer claim.
func (ti *tokenIssuer) Issuer() string {
	return ti.issuer
}

// Audience returns the expected token audience claim.
func (ti *tokenIssuer) Audience() string {
	return ti.audience
}
