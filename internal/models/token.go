package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Token kinds select the signing domain. Access and refresh tokens are signed
// with independent secrets so compromising one family does not compromise the
// other.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

type TokenClaims struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}
