// Package auth holds the primitives behind member authentication: password
// hashing, session token generation, the request gate that turns a session
// cookie into a member, and the GitHub OAuth client.
//
// FILES:
//   - password.go    bcrypt hashing and verification
//   - token.go       opaque session and routing tokens
//   - middleware.go  Gate / RequireAuth and the context helpers
//   - cookie.go      setting and clearing the session cookie
//   - oauth.go       the GitHub OAuth client
//
// Nothing here touches the database. Session lookups go through the
// SessionValidator the Gate is given.
//
// PASSWORD HASH FORMAT (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds, 2^12 iterations)
//	 version
//
// Salt and cost travel inside the hash, so the members table needs a single
// password_hash column.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used in production.
//
// COST TUNING:
// Each +1 doubles the time to hash. 12 is roughly 250ms on current server
// hardware. Set auth.bcrypt_cost so one hash stays in the 200-300ms range on
// the machine that serves sign-ins.
const DefaultCost = 12

// MaxPasswordBytes is bcrypt's input limit. Anything longer would be silently
// truncated, so Hash refuses it instead.
const MaxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: password does not match")

// ErrPasswordTooLong is returned by Hash for inputs over MaxPasswordBytes.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// PasswordService hashes and verifies passwords with bcrypt.
//
// It is a struct rather than free functions so the cost can be injected:
// tests use bcrypt.MinCost. Hashes made with an older cost keep verifying
// after the cost is raised, since each hash records its own cost.
//
// TIMING:
// Verify and VerifyDummy take the same time at a given cost. Sign-in uses
// VerifyDummy for unknown emails so response time does not reveal whether
// an email is registered.
type PasswordService struct {
	cost int

	dummyOnce sync.Once
	dummyHash string
}

// NewPasswordService returns a service hashing at cost. A cost of 0 means
// DefaultCost. Tests pass bcrypt.MinCost to keep suites fast.
func NewPasswordService(cost int) (*PasswordService, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &PasswordService{cost: cost}, nil
}

// Hash returns the bcrypt hash of plaintext with a fresh random salt. Two
// calls with the same input produce different hashes.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash, ErrPasswordMismatch when it
// does not, and a wrapped error when hash is not a bcrypt hash at all.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPasswordMismatch
	}
	return fmt.Errorf("auth: comparing password hash: %w", err)
}

// VerifyDummy burns the same CPU as a real Verify at this cost and always
// fails. Sign-in calls it when the email is unknown so both failure paths
// take the same time.
func (p *PasswordService) VerifyDummy(plaintext string) error {
	p.dummyOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), p.cost)
		if err == nil {
			p.dummyHash = string(h)
		}
	})
	_ = bcrypt.CompareHashAndPassword([]byte(p.dummyHash), []byte(plaintext))
	return ErrPasswordMismatch
}
