package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Token kinds carried in the "kind" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
	KindReset   = "reset"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"access_expires_at"`
	RefreshExp   time.Time `json:"refresh_expires_at"`
}

// Principal is the authenticated caller.
type Principal struct {
	UserID           string `json:"user_id"`
	Role             string `json:"role"`
	EnrollmentNumber string `json:"enrollment_number,omitempty"`
	StaffID          string `json:"staff_id,omitempty"`
}

// Claims represents JWT payload.
type Claims struct {
	Role             string `json:"role"`
	Kind             string `json:"kind"`
	EnrollmentNumber string `json:"enr,omitempty"`
	StaffID          string `json:"sid,omitempty"`
	// Fingerprint ties a reset token to the password hash it was issued for.
	Fingerprint string `json:"fp,omitempty"`
	jwt.RegisteredClaims
}

// Principal extracts the caller identity from the claims.
func (c Claims) Principal() Principal {
	return Principal{
		UserID:           c.Subject,
		Role:             c.Role,
		EnrollmentNumber: c.EnrollmentNumber,
		StaffID:          c.StaffID,
	}
}

// Issue issues signed access and refresh tokens.
func Issue(p Principal, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	accessToken, err := sign(claimsFor(p, KindAccess, issuer, now, accessExp), key)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(claimsFor(p, KindRefresh, issuer, now, refreshExp), key)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// IssueReset issues a single-purpose password reset token.
func IssueReset(userID, fingerprint, issuer, key string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claimsFor(Principal{UserID: userID}, KindReset, issuer, now, now.Add(ttl))
	c.Fingerprint = fingerprint
	return sign(c, key)
}

// Parse validates a token of the given kind and returns claims.
func Parse(tokenStr, key, issuer, kind string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Kind != kind {
		return Claims{}, errors.Errorf("expected %s token, got %q", kind, claims.Kind)
	}
	return *claims, nil
}

func claimsFor(p Principal, kind, issuer string, now, exp time.Time) Claims {
	return Claims{
		Role:             p.Role,
		Kind:             kind,
		EnrollmentNumber: p.EnrollmentNumber,
		StaffID:          p.StaffID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func sign(c Claims, key string) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(key))
	return s, errors.Wrap(err, "sign token")
}
