package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Record is one authenticated session: the bearer token, the token used to
// renew it, and the instant the bearer token stops being accepted.
type Record struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// WithExpiry returns r with ExpiresAt filled from the access token's "exp"
// claim when the server did not send one. The token signature is not
// checked; the server remains the authority on validity. A record whose
// expiry cannot be determined keeps a zero ExpiresAt and is never valid.
func (r Record) WithExpiry() Record {
	if !r.ExpiresAt.IsZero() {
		return r
	}

	if exp, ok := tokenExpiry(r.AccessToken); ok {
		r.ExpiresAt = exp
	}

	return r
}

func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}

	return exp.Time, true
}

// Profile is the user returned alongside a session by login-class calls.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Type      string `json:"type,omitempty"`
}

// Store is durable storage for the session, the installation identity and
// the signed-in profile. Load methods return a nil value (or "") and a nil
// error when nothing is stored. Saving a nil record or profile deletes it.
// Implementations must be safe for concurrent use; each call is treated as
// atomic.
type Store interface {
	LoadAuth(ctx context.Context) (*Record, error)
	SaveAuth(ctx context.Context, rec *Record) error
	LoadIdentity(ctx context.Context) (string, error)
	SaveIdentity(ctx context.Context, identity string) error
	LoadProfile(ctx context.Context) (*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}
