package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"go.uber.org/zap"

	"reward_ledger/internal/logger"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	ctxUserID = "user_id"
	ctxRole   = "role"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid identity token")
)

// Identity is what the external identity service vouches for.
type Identity struct {
	UserID string
	Role   string
}

type roleClaims struct {
	Role string `json:"role,omitempty"`
}

// Verifier checks HS256 identity tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, leeway: jwt.DefaultLeeway, now: time.Now}
}

func (v *Verifier) Verify(token string) (*Identity, error) {
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var std jwt.Claims
	var extra roleClaims
	if err := tok.Claims(v.secret, &std, &extra); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := std.ValidateWithLeeway(jwt.Expected{Time: v.now()}, v.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if std.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	role := extra.Role
	if role == "" {
		role = RoleUser
	}
	return &Identity{UserID: std.Subject, Role: role}, nil
}

// Sign issues a token the Verifier accepts. The identity service owns
// issuance in production; this is for tooling and tests.
func Sign(secret []byte, id Identity, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}
	now := time.Now()
	return jwt.Signed(signer).
		Claims(jwt.Claims{
			Subject:  id.UserID,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		}).
		Claims(roleClaims{Role: id.Role}).
		Serialize()
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's identity on the context.
func Authenticate(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		id, err := v.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			logger.L.Debug("identity rejected", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrInvalidToken.Error()})
			return
		}
		c.Set(ctxUserID, id.UserID)
		c.Set(ctxRole, id.Role)
		c.Next()
	}
}

func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
