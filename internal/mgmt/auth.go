package mgmt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Claims is the JWT claim set carried by management bearer tokens. The
// token maps directly onto an AgentCredential; the memory core never sees
// the token itself.
type Claims struct {
	AgentID string `json:"agent_id"`
	Tier    string `json:"tier"`
	jwt.RegisteredClaims
}

// TokenAuthority issues and validates HS256 bearer tokens for the
// management surface.
type TokenAuthority struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenAuthority creates a TokenAuthority. ttl bounds token lifetime;
// zero means 24 hours.
func NewTokenAuthority(secret []byte, ttl time.Duration) (*TokenAuthority, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("token authority requires a signing secret")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenAuthority{secret: secret, ttl: ttl, clock: time.Now}, nil
}

// WithClock replaces the authority's time source for deterministic tests.
func (a *TokenAuthority) WithClock(clock func() time.Time) *TokenAuthority {
	a.clock = clock
	return a
}

// Issue signs a token for the given credential.
func (a *TokenAuthority) Issue(cred types.AgentCredential) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", err
	}

	now := a.clock().UTC()
	claims := Claims{
		AgentID: cred.AgentID,
		Tier:    cred.Tier.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.AgentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a bearer token and returns the credential it carries.
// Any parse, signature, expiry, or claim problem is PERMISSION_DENIED.
func (a *TokenAuthority) Validate(token string) (types.AgentCredential, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.clock), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return types.AgentCredential{}, types.WrapError(types.PERMISSION_DENIED, "invalid bearer token", err)
	}
	if !parsed.Valid {
		return types.AgentCredential{}, types.NewError(types.PERMISSION_DENIED, "invalid bearer token")
	}

	tier, err := types.ParseTier(claims.Tier)
	if err != nil {
		return types.AgentCredential{}, types.WrapError(types.PERMISSION_DENIED, "invalid tier claim", err)
	}

	cred := types.AgentCredential{AgentID: claims.AgentID, Tier: tier}
	if err := cred.Validate(); err != nil {
		return types.AgentCredential{}, err
	}
	return cred, nil
}
