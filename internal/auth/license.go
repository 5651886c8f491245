package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"docdex/internal/errdef"
)

// LicenseClaims is the payload of a signed license token.
type LicenseClaims struct {
	Edition string `json:"edition"`
	Seats   int    `json:"seats"`
	jwt.RegisteredClaims
}

// LicenseStatus is the read-only snapshot served by the status endpoint.
type LicenseStatus struct {
	Licensed  bool       `json:"licensed"`
	Edition   string     `json:"edition,omitempty"`
	Seats     int        `json:"seats,omitempty"`
	LicenseID string     `json:"license_id,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// License verifies the configured license token once, lazily, and serves
// the result read-only from then on. An unlicensed instance is not an
// error state; it simply has no seat limit or edition.
type License struct {
	key     string
	secret  []byte
	revoked map[string]bool
	now     func() time.Time

	once   sync.Once
	claims *LicenseClaims
	err    error
}

func NewLicense(key, secret string, revokedIDs []string) *License {
	revoked := make(map[string]bool, len(revokedIDs))
	for _, id := range revokedIDs {
		revoked[id] = true
	}
	return &License{
		key:     key,
		secret:  []byte(secret),
		revoked: revoked,
		now:     time.Now,
	}
}

func (l *License) verify() {
	if l.key == "" {
		l.err = errdef.ErrLicenseNotFound
		return
	}
	if len(l.secret) == 0 {
		l.err = errdef.New(errdef.CodeLicenseInvalid, "license signing secret not configured")
		return
	}

	claims := &LicenseClaims{}
	token, err := jwt.ParseWithClaims(l.key, claims,
		func(t *jwt.Token) (any, error) { return l.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return l.now() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			l.err = errdef.ErrLicenseExpired
			return
		}
		l.err = errdef.Wrap(errdef.CodeLicenseInvalid, "parse license token", err)
		return
	}
	if !token.Valid {
		l.err = errdef.ErrLicenseInvalid
		return
	}
	if claims.ID != "" && l.revoked[claims.ID] {
		l.err = errdef.ErrLicenseRevoked
		return
	}
	l.claims = claims
}

// Claims returns the verified license payload, or the verification error.
func (l *License) Claims() (*LicenseClaims, error) {
	l.once.Do(l.verify)
	return l.claims, l.err
}

// Status reports the license state without failing. Invalid or missing
// licenses surface as Licensed=false with the error code.
func (l *License) Status() LicenseStatus {
	claims, err := l.Claims()
	if err != nil {
		return LicenseStatus{Error: string(errdef.CodeOf(err))}
	}
	st := LicenseStatus{
		Licensed:  true,
		Edition:   claims.Edition,
		Seats:     claims.Seats,
		LicenseID: claims.ID,
	}
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time
		st.IssuedAt = &t
	}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		st.ExpiresAt = &t
	}
	return st
}

// SeatLimit returns the licensed seat count. false means unlimited, either
// because no valid license is present or the license does not cap seats.
func (l *License) SeatLimit() (int, bool) {
	claims, err := l.Claims()
	if err != nil || claims.Seats <= 0 {
		return 0, false
	}
	return claims.Seats, true
}
