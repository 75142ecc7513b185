package model

import "time"

// Session is proof that a member signed in. The token is generated by the
// server and is the only thing the client ever holds.
//
// Member is filled by the token lookup and nowhere else; it is never
// serialised back to the client.
type Session struct {
	Token     string    `json:"-"         db:"token"`
	MemberID  string    `json:"memberId"  db:"member_id"`
	Member    *Member   `json:"-"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ExpiredAt reports whether the session is older than ttl at time now.
// A zero ttl means sessions never expire.
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(s.CreatedAt.Add(ttl))
}

// PurposePasswordReset marks a routing token mailed by the password-reset
// flow. ResetPassword refuses tokens with any other purpose.
const PurposePasswordReset = "password_reset"

// RoutingToken is a single-use token sent to an email address (password
// reset, email verification). UsedAt is set once the token is redeemed.
type RoutingToken struct {
	Token     string     `db:"token"`
	Email     string     `db:"email"`
	Purpose   string     `db:"purpose"`
	CreatedAt time.Time  `db:"created_at"`
	UsedAt    *time.Time `db:"used_at"`
}

// ExpiredAt reports whether the token is older than ttl at time now.
func (t *RoutingToken) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && !now.Before(t.CreatedAt.Add(ttl))
}
