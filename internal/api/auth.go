package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"wallet_ledger/internal/logger"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	principalKey = "principal"
)

var ErrUnauthenticated = errors.New("missing or invalid bearer token")

// Principal is the caller identified by the bearer token.
type Principal struct {
	UserID string
	Role   string
}

type tokenClaims struct {
	jwt.Claims
	Role string `json:"role,omitempty"`
}

// Tokens signs and verifies HS256 bearer tokens. Issuing is only used by
// local tooling and tests; identities come from an external provider.
type Tokens struct {
	key []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{key: []byte(secret)}
}

func (t *Tokens) Issue(userID, role string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: t.key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}
	now := time.Now()
	claims := tokenClaims{
		Claims: jwt.Claims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.Signed(signer).Claims(claims).Serialize()
}

func (t *Tokens) Verify(raw string) (*Principal, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, ErrUnauthenticated
	}
	var claims tokenClaims
	if err := tok.Claims(t.key, &claims); err != nil {
		return nil, ErrUnauthenticated
	}
	if err := claims.ValidateWithLeeway(jwt.Expected{Time: time.Now()}, time.Minute); err != nil {
		return nil, ErrUnauthenticated
	}
	if claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return &Principal{UserID: claims.Subject, Role: role}, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// principal on the gin context.
func (t *Tokens) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthenticated.Error()})
			return
		}
		p, err := t.Verify(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(principalKey, p)
		ctx := logger.WithFields(c.Request.Context(), map[string]string{"user_id": p.UserID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		if p == nil || p.Role != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}
