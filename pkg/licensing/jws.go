package licensing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// MinKeyLength is the minimum HS256 key size in bytes.
const MinKeyLength = 32

var ErrWeakKey = errors.New("licensing: signing key must be at least 32 bytes")

type claims struct {
	TenantID          string          `json:"tenant_id"`
	MaxSubscribers    *int            `json:"max_subscribers"`
	OveragePolicy     OveragePolicy   `json:"overage_policy"`
	Features          map[string]bool `json:"features"`
	IssuedAt          *int64          `json:"iat"`
	ExpiresAt         *int64          `json:"exp"`
	Nonce             string          `json:"nonce"`
	Version           *int64          `json:"version"`
	WarnThreshold     *int            `json:"warn_threshold,omitempty"`
	CriticalThreshold *int            `json:"critical_threshold,omitempty"`
	GraceHours        *int            `json:"grace_hours,omitempty"`
}

func toClaims(t *Token) claims {
	iat, exp := t.IssuedAt.Unix(), t.ExpiresAt.Unix()
	maxSubs, version := t.MaxSubscribers, t.Version
	warn, crit, grace := t.WarnThresholdPercent, t.CriticalThresholdPercent, t.GracePeriodHours

	features := t.Features
	if features == nil {
		features = map[string]bool{}
	}

	return claims{
		TenantID:          t.TenantID,
		MaxSubscribers:    &maxSubs,
		OveragePolicy:     t.OveragePolicy,
		Features:          features,
		IssuedAt:          &iat,
		ExpiresAt:         &exp,
		Nonce:             t.Nonce,
		Version:           &version,
		WarnThreshold:     &warn,
		CriticalThreshold: &crit,
		GraceHours:        &grace,
	}
}

func (c claims) token() (*Token, error) {
	switch {
	case c.TenantID == "":
		return nil, invalid("missing claim tenant_id", nil)
	case c.MaxSubscribers == nil:
		return nil, invalid("missing claim max_subscribers", nil)
	case !c.OveragePolicy.Valid():
		return nil, invalid(fmt.Sprintf("unknown overage_policy %q", c.OveragePolicy), nil)
	case c.IssuedAt == nil:
		return nil, invalid("missing claim iat", nil)
	case c.ExpiresAt == nil:
		return nil, invalid("missing claim exp", nil)
	case c.Nonce == "":
		return nil, invalid("missing claim nonce", nil)
	case c.Version == nil || *c.Version < 1:
		return nil, invalid("missing or non-positive claim version", nil)
	}

	t := &Token{
		TenantID:                 c.TenantID,
		MaxSubscribers:           *c.MaxSubscribers,
		OveragePolicy:            c.OveragePolicy,
		Features:                 c.Features,
		IssuedAt:                 time.Unix(*c.IssuedAt, 0).UTC(),
		ExpiresAt:                time.Unix(*c.ExpiresAt, 0).UTC(),
		Nonce:                    c.Nonce,
		Version:                  *c.Version,
		WarnThresholdPercent:     DefaultWarnThresholdPercent,
		CriticalThresholdPercent: DefaultCriticalThresholdPercent,
		GracePeriodHours:         DefaultGracePeriodHours,
	}
	if t.Features == nil {
		t.Features = map[string]bool{}
	}
	if c.WarnThreshold != nil {
		t.WarnThresholdPercent = *c.WarnThreshold
	}
	if c.CriticalThreshold != nil {
		t.CriticalThresholdPercent = *c.CriticalThreshold
	}
	if c.GraceHours != nil {
		t.GracePeriodHours = *c.GraceHours
	}

	return t, nil
}

// Sign serializes t as a compact HS256 JWS.
func Sign(t *Token, key []byte) (string, error) {
	if len(key) < MinKeyLength {
		return "", ErrWeakKey
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	payload, err := json.Marshal(toClaims(t))
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	jws, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign license: %w", err)
	}

	return jws.CompactSerialize()
}

// FromSigned verifies raw with key and decodes the token, using the current
// time for the expiry check.
func FromSigned(raw string, key []byte) (*Token, error) {
	return FromSignedAt(raw, key, time.Now())
}

// FromSignedAt verifies raw and decodes it, checking expiry against now. The
// signature is verified first; a validly signed but expired token returns
// *ExpiredError carrying the decoded token. Every other failure is an
// *InvalidError.
func FromSignedAt(raw string, key []byte, now time.Time) (*Token, error) {
	jws, err := jose.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, invalid("malformed token", err)
	}

	payload, err := jws.Verify(key)
	if err != nil {
		return nil, invalid("signature verification failed", err)
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, invalid("malformed payload", err)
	}

	t, err := c.token()
	if err != nil {
		return nil, err
	}

	if t.IsExpired(now) {
		return nil, &ExpiredError{Token: t}
	}

	return t, nil
}
