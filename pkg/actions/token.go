package actions

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/heartbeat-ops/heartbeat/pkg/contracts"
)

const approvalIssuer = "heartbeat/actions"

// ApprovalClaims is the signed payload of a tier-3 approval token.
type ApprovalClaims struct {
	jwt.RegisteredClaims
	Approver string `json:"approver"`
	MaxTier  int    `json:"max_tier"`
}

// ApprovalVerifier signs and validates tier-3 approval tokens with a shared
// HMAC secret.
type ApprovalVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewApprovalVerifier builds a verifier over a shared secret.
func NewApprovalVerifier(secret []byte) *ApprovalVerifier {
	return &ApprovalVerifier{secret: secret, now: time.Now}
}

// Sign issues a token naming the approver, valid for ttl.
func (v *ApprovalVerifier) Sign(approver string, maxTier int, ttl time.Duration) (string, error) {
	now := v.now().UTC()
	claims := ApprovalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approver,
			Issuer:    approvalIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Approver: approver,
		MaxTier:  maxTier,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", contracts.WrapError(contracts.KindPolicy, "sign approval token", err)
	}
	return signed, nil
}

// Verify parses and validates a token, pinning the signing method and
// issuer so an attacker cannot downgrade the algorithm.
func (v *ApprovalVerifier) Verify(tokenString string) (*ApprovalClaims, error) {
	claims := &ApprovalClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(approvalIssuer),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		return nil, contracts.WrapError(contracts.KindPolicy, "verify approval token", err)
	}
	if !token.Valid {
		return nil, contracts.Errorf(contracts.KindPolicy, "approval token invalid")
	}
	return claims, nil
}
