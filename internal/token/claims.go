package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TypeAccess and TypeRefresh discriminate the two token kinds; a token
	// of one kind is never accepted where the other is expected.
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims are the signed contents of an access token.
type Claims struct {
	Role               string `json:"role"`
	App                string `json:"app"`
	TokenType          string `json:"token_type"`
	PermissionsVersion int64  `json:"pv"`
	SessionID          string `json:"sid"`
	AuthTime           int64  `json:"auth_time"`
	jwt.RegisteredClaims
}

// Pair bundles freshly minted access and refresh credentials.
type Pair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
