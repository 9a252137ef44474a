package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL bounds a token's lifetime when none is given.
const DefaultTokenTTL = 5 * time.Minute

// Claims are the signed contents of a Token.
type Claims struct {
	ID        string    `json:"id"`
	ChainID   string    `json:"chainId"`
	TenantID  string    `json:"tenantId"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// HasScope reports whether scope was granted.
func (c Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Token is a scoped execution token: claims plus an ed25519 signature.
type Token struct {
	Claims    Claims `json:"claims"`
	Signature []byte `json:"signature"`
}

// String encodes the token as payload.signature in base64url.
func (t Token) String() string {
	payload, _ := canonicalJSON(t.Claims)
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(t.Signature)
}

// ParseToken reverses Token.String. The signature is not checked.
func ParseToken(s string) (Token, error) {
	payloadPart, sigPart, ok := strings.Cut(s, ".")
	if !ok {
		return Token{}, fmt.Errorf("%w: malformed token", ErrInvalidToken)
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(payloadPart)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var t Token
	if err := json.Unmarshal(payload, &t.Claims); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	t.Signature = sig
	return t, nil
}

// TokenIssuer signs tokens with a key that lives only as long as the
// process. Tokens are not meant to outlive the execution they scope.
type TokenIssuer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	ttl  time.Duration
	now  func() time.Time
}

func NewTokenIssuer(ttl time.Duration) (*TokenIssuer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{priv: priv, pub: pub, ttl: ttl, now: time.Now}, nil
}

// PublicKey returns the verification key.
func (i *TokenIssuer) PublicKey() ed25519.PublicKey { return i.pub }

// Issue signs a token for chain with the given scopes.
func (i *TokenIssuer) Issue(chain Chain, scopes ...string) (Token, error) {
	now := i.now().UTC()
	claims := Claims{
		ID:        uuid.NewString(),
		ChainID:   chain.ID,
		TenantID:  chain.TenantID,
		Scopes:    append([]string(nil), scopes...),
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	payload, err := canonicalJSON(claims)
	if err != nil {
		return Token{}, fmt.Errorf("failed to encode claims: %w", err)
	}
	return Token{Claims: claims, Signature: ed25519.Sign(i.priv, payload)}, nil
}

// Verify checks the signature and expiry.
func (i *TokenIssuer) Verify(t Token) error {
	payload, err := canonicalJSON(t.Claims)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if len(t.Signature) != ed25519.SignatureSize || !ed25519.Verify(i.pub, payload, t.Signature) {
		return fmt.Errorf("%w: signature verification failed", ErrInvalidToken)
	}
	if !i.now().Before(t.Claims.ExpiresAt) {
		return fmt.Errorf("%w: expired at %s", ErrTokenExpired, t.Claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
