package policy

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/util"
)

var knownRoles = []Role{RoleAdmin, RoleRanger}

// TokenParser turns a bearer token into a CallerIdentity. The core only
// consumes caller identity; it never issues tokens or manages accounts
// (spec §2, identity provisioning is explicitly out of scope).
type TokenParser struct {
	secret []byte
}

func NewTokenParser(secret string) *TokenParser {
	return &TokenParser{secret: []byte(secret)}
}

// Parse validates rawHeader (the full "Authorization" header value) and
// extracts the caller identity from its claims. A missing or malformed
// header yields the zero CallerIdentity, which authorizes nothing.
func (p *TokenParser) Parse(rawHeader string) (CallerIdentity, error) {
	if !strings.HasPrefix(rawHeader, "Bearer ") {
		return CallerIdentity{}, domain.ErrPolicyRefused
	}
	raw := strings.TrimPrefix(rawHeader, "Bearer ")
	if raw == "" {
		return CallerIdentity{}, domain.ErrPolicyRefused
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return CallerIdentity{}, fmt.Errorf("%w: %w", domain.ErrPolicyRefused, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return CallerIdentity{}, domain.ErrPolicyRefused
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return CallerIdentity{}, domain.ErrPolicyRefused
	}

	role := Role(stringClaim(claims, "role"))
	if !util.Contains(knownRoles, role) {
		return CallerIdentity{}, domain.ErrPolicyRefused
	}

	return CallerIdentity{
		Subject:     sub,
		Role:        role,
		RangerID:    int64Claim(claims, "ranger_id"),
		CheckpostID: int64Claim(claims, "checkpost_id"),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func int64Claim(claims jwt.MapClaims, key string) int64 {
	switch v := claims[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
