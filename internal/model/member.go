// Package model defines the data structures used throughout the application.
// Structs here carry no behaviour beyond small helpers; persistence lives in
// the repository packages and rules live in the service layer.
package model

import "time"

// Member is a registered account.
//
// PasswordHash is tagged json:"-" so it can never leak through an API
// response, even if a handler serialises the whole struct by mistake.
type Member struct {
	ID           string    `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Summary returns the bounded projection used when a member is embedded in
// another object.
func (m *Member) Summary() *MemberSummary {
	if m == nil {
		return nil
	}
	return &MemberSummary{ID: m.ID, Username: m.Username}
}

// MemberSummary is the only shape in which a member appears inside other
// objects (project owners, editors). It has no relations of its own, so
// responses cannot recurse member -> sessions -> member.
type MemberSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
