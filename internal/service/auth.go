// Package service holds the business rules. Services take repository
// interfaces and return typed apperror failures; they know nothing about
// HTTP, cookies or SQL.
//
// AuthService sits between the operation resolvers and the stores:
//
//	MemberResolvers (HTTP) → AuthService (rules) → repository.Store (SQLite)
//	                       ↘ auth.PasswordService (bcrypt)
//	                       ↘ Notifier (reset links)
//
// KEY RESPONSIBILITIES:
//   - Sign-up, sign-in and sign-out, and the session lifecycle behind them
//   - Credential changes, each re-checking the current password
//   - Account deletion and password reset as single transactions
//   - Mapping every failure to an apperror kind the transport can code
//
// ProjectService and FollowService follow the same shape for the project
// and follow operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/rs/xid"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/metrics"
	"github.com/sakif/sandbox-server/internal/model"
	"github.com/sakif/sandbox-server/internal/repository"
)

const (
	MaxUsernameLength = 32
	MaxEmailLength    = 254

	// tokenAttempts bounds retries when a freshly generated token collides
	// with an existing one. With 128 random bits a single retry is already
	// astronomically unlikely.
	tokenAttempts = 3

	// githubNameAttempts bounds the usernames tried for a new GitHub member.
	githubNameAttempts = 5
	githubSuffixLength = 6
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AuthConfig carries the lifetimes the auth service enforces.
type AuthConfig struct {
	// SessionTTL is measured from session creation. Zero disables expiry:
	// sessions then live until sign-out or account deletion.
	SessionTTL time.Duration
	// ResetTokenTTL bounds how long a password-reset token can be redeemed.
	ResetTokenTTL time.Duration
}

// SignInResult is what a successful sign-in produces. The caller moves
// Session.Token into a cookie.
type SignInResult struct {
	Member  *model.Member
	Session *model.Session
}

// Notifier delivers routing tokens to their email address.
type Notifier interface {
	PasswordReset(ctx context.Context, email, token string) error
}

// AuthService owns the member and session lifecycle.
//
// DEPENDENCIES (injected via NewAuthService):
//   - store      repository.Store        members, sessions, routing tokens, InTx
//   - passwords  *auth.PasswordService   bcrypt hashing
//   - notifier   Notifier                delivers reset links
//   - metrics    *metrics.Metrics        auth outcome counters (may be nil)
//   - cfg        AuthConfig              session and reset-token lifetimes
//   - logger     *slog.Logger            structured logging
//
// now and newToken are swapped out by tests to control time and token
// collisions.
type AuthService struct {
	store     repository.Store
	passwords *auth.PasswordService
	notifier  Notifier
	metrics   *metrics.Metrics
	cfg       AuthConfig
	logger    *slog.Logger

	now      func() time.Time
	newToken func() (string, error)
}

func NewAuthService(
	store repository.Store,
	passwords *auth.PasswordService,
	notifier Notifier,
	m *metrics.Metrics,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		passwords: passwords,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		newToken:  auth.GenerateToken,
	}
}

// SignUp registers a member. Checks run in a fixed order so the same input
// always produces the same failure: required fields, password confirmation,
// field formats, email uniqueness, then username uniqueness.
//
// The uniqueness pre-checks only exist to produce a friendly error; the
// store's unique indexes decide races between concurrent sign-ups.
func (s *AuthService) SignUp(ctx context.Context, username, email, password, confirmedPassword string) (member *model.Member, err error) {
	defer func() { s.metrics.AuthEvent("sign_up", err) }()

	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	if err := required(
		"username", username,
		"email", email,
		"password", password,
		"confirmedPassword", confirmedPassword,
	); err != nil {
		return nil, err
	}
	if password != confirmedPassword {
		return nil, apperror.PasswordsDoNotMatch()
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}

	members := s.store.Members()

	taken, err := members.EmailTaken(ctx, email, "")
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking email: %w", err)
	}
	if taken {
		return nil, apperror.EmailAlreadyRegistered()
	}

	taken, err = members.UsernameTaken(ctx, username, "")
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking username: %w", err)
	}
	if taken {
		return nil, apperror.UsernameAlreadyRegistered()
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	m := &model.Member{Username: username, Email: email, PasswordHash: hash}
	if err := members.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("service/auth: creating member: %w", err)
	}

	// Return what the store holds, not the struct we built.
	created, err := members.GetByID(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: re-reading member %s: %w", m.ID, err)
	}

	s.logger.Info("member signed up",
		slog.String("memberID", created.ID),
		slog.String("username", created.Username),
	)
	return created, nil
}

// SignIn checks the credentials and opens a new session.
//
// FLOW:
//  1. Look the member up by normalized email
//  2. Verify the password (or burn the same time on a dummy hash when the
//     email is unknown)
//  3. Insert a new session row; existing sessions stay valid
//
// An unknown email and a wrong password fail identically, in message and in
// timing: both return InvalidCredentials.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (result *SignInResult, err error) {
	defer func() { s.metrics.AuthEvent("sign_in", err) }()

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.InvalidCredentials()
	}

	member, err := s.store.Members().GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrMemberNotFound) {
		_ = s.passwords.VerifyDummy(password)
		return nil, apperror.InvalidCredentials()
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up member: %w", err)
	}

	if err := s.passwords.Verify(member.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash unusable",
				slog.String("memberID", member.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.InvalidCredentials()
	}

	sess, err := s.openSession(ctx, s.store.Sessions(), member)
	if err != nil {
		return nil, err
	}

	s.logger.Info("member signed in", slog.String("memberID", member.ID))
	return &SignInResult{Member: member, Session: sess}, nil
}

// SignOut deletes the session. A token that matches nothing is reported as
// SessionNotFound rather than ignored.
func (s *AuthService) SignOut(ctx context.Context, token string) (err error) {
	defer func() { s.metrics.AuthEvent("sign_out", err) }()

	if token == "" {
		return apperror.SessionNotFound()
	}
	if err := s.store.Sessions().Delete(ctx, token); err != nil {
		if errors.Is(err, apperror.ErrSessionNotFound) {
			return err
		}
		return fmt.Errorf("service/auth: deleting session: %w", err)
	}
	return nil
}

// ValidateSession resolves a session token to its member. Every protected
// operation passes through here (via the auth gate). Unknown and expired
// tokens both come back as Unauthorized; store failures come back as
// themselves so an outage is not mistaken for a bad cookie.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*model.Member, error) {
	if token == "" {
		return nil, apperror.Unauthorized()
	}

	sess, err := s.store.Sessions().GetByToken(ctx, token)
	if errors.Is(err, apperror.ErrSessionNotFound) {
		return nil, apperror.Unauthorized()
	}
	if err != nil {
		return nil, fmt.Errorf("service/auth: looking up session: %w", err)
	}

	if sess.ExpiredAt(s.now(), s.cfg.SessionTTL) {
		if err := s.store.Sessions().Delete(ctx, token); err != nil && !errors.Is(err, apperror.ErrSessionNotFound) {
			s.logger.Warn("deleting expired session", slog.String("error", err.Error()))
		}
		return nil, apperror.Unauthorized()
	}
	return sess.Member, nil
}

// FindByUsername looks a member up for following. Only the public summary
// leaves the service.
func (s *AuthService) FindByUsername(ctx context.Context, username string) (*model.MemberSummary, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	m, err := s.store.Members().GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return m.Summary(), nil
}

// UpdateUsername changes one member's username. The uniqueness check and the
// write share a transaction; the unique index still has the final word.
// Setting the current value succeeds without a write.
func (s *AuthService) UpdateUsername(ctx context.Context, memberID, newUsername string) (*model.Member, error) {
	newUsername = strings.TrimSpace(newUsername)
	if err := required("username", newUsername); err != nil {
		return nil, err
	}
	if err := validateUsername(newUsername); err != nil {
		return nil, err
	}

	return s.updateUnique(ctx, memberID, func(ctx context.Context, members repository.MemberRepository, current *model.Member) error {
		if current.Username == newUsername {
			return nil
		}
		taken, err := members.UsernameTaken(ctx, newUsername, current.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperror.UsernameAlreadyRegistered()
		}
		return members.UpdateUsername(ctx, current.ID, newUsername)
	})
}

// UpdateEmail changes one member's email, with the same guarantees as
// UpdateUsername.
func (s *AuthService) UpdateEmail(ctx context.Context, memberID, newEmail string) (*model.Member, error) {
	newEmail = normalizeEmail(newEmail)
	if err := required("email", newEmail); err != nil {
		return nil, err
	}
	if err := validateEmail(newEmail); err != nil {
		return nil, err
	}

	return s.updateUnique(ctx, memberID, func(ctx context.Context, members repository.MemberRepository, current *model.Member) error {
		if current.Email == newEmail {
			return nil
		}
		taken, err := members.EmailTaken(ctx, newEmail, current.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperror.EmailAlreadyRegistered()
		}
		return members.UpdateEmail(ctx, current.ID, newEmail)
	})
}

func (s *AuthService) updateUnique(
	ctx context.Context,
	memberID string,
	apply func(ctx context.Context, members repository.MemberRepository, current *model.Member) error,
) (*model.Member, error) {
	if memberID == "" {
		return nil, apperror.Unauthorized()
	}

	var updated *model.Member
	err := s.store.InTx(ctx, func(tx repository.Stores) error {
		current, err := tx.Members().GetByID(ctx, memberID)
		if err != nil {
			return err
		}
		if err := apply(ctx, tx.Members(), current); err != nil {
			return err
		}
		updated, err = tx.Members().GetByID(ctx, memberID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("service/auth: updating member %s: %w", memberID, err)
	}

	s.logger.Info("member updated", slog.String("memberID", memberID))
	return updated, nil
}

// UpdatePassword requires the current password before anything changes: a
// live session alone is not enough to replace credentials.
func (s *AuthService) UpdatePassword(ctx context.Context, member *model.Member, oldPassword, newPassword, confirmedNewPassword string) (updated *model.Member, err error) {
	defer func() { s.metrics.AuthEvent("update_password", err) }()

	current, err := s.reverify(ctx, member, oldPassword)
	if err != nil {
		return nil, err
	}
	if newPassword != confirmedNewPassword {
		return nil, apperror.PasswordsDoNotMatch()
	}
	if err := required("newPassword", newPassword); err != nil {
		return nil, err
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.store.Members().UpdatePasswordHash(ctx, current.ID, hash); err != nil {
		return nil, fmt.Errorf("service/auth: storing password: %w", err)
	}

	updated, err = s.store.Members().GetByID(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: re-reading member %s: %w", current.ID, err)
	}
	s.logger.Info("password changed", slog.String("memberID", current.ID))
	return updated, nil
}

// DeleteAccount re-checks the password, then removes the account.
//
// TRANSACTION:
// Deleting every session and deleting the member share one InTx call, so
// either both go or neither does. Owned projects, favorites and follows go
// with the member through ON DELETE CASCADE.
func (s *AuthService) DeleteAccount(ctx context.Context, member *model.Member, password string) (err error) {
	defer func() { s.metrics.AuthEvent("delete_account", err) }()

	current, err := s.reverify(ctx, member, password)
	if err != nil {
		return err
	}

	var revoked int64
	err = s.store.InTx(ctx, func(tx repository.Stores) error {
		n, err := tx.Sessions().DeleteByMember(ctx, current.ID)
		if err != nil {
			return err
		}
		revoked = n
		return tx.Members().Delete(ctx, current.ID)
	})
	if err != nil {
		return fmt.Errorf("service/auth: deleting member %s: %w", current.ID, err)
	}

	s.logger.Info("account deleted",
		slog.String("memberID", current.ID),
		slog.Int64("sessionsRevoked", revoked),
	)
	return nil
}

// reverify loads the member fresh from the store and checks password against
// it. The member attached by the gate may be stale by now.
func (s *AuthService) reverify(ctx context.Context, member *model.Member, password string) (*model.Member, error) {
	if member == nil || member.ID == "" {
		return nil, apperror.Unauthorized()
	}

	current, err := s.store.Members().GetByID(ctx, member.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: loading member %s: %w", member.ID, err)
	}
	if err := s.passwords.Verify(current.PasswordHash, password); err != nil {
		return nil, apperror.InvalidPassword()
	}
	return current, nil
}

// RequestPasswordReset issues a reset token when email belongs to a member.
// It reports success either way, so the endpoint cannot be used to find out
// which addresses are registered.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := required("email", email); err != nil {
		return err
	}
	if err := validateEmail(email); err != nil {
		return err
	}

	if _, err := s.store.Members().GetByEmail(ctx, email); err != nil {
		if errors.Is(err, apperror.ErrMemberNotFound) {
			s.logger.Debug("password reset for unknown email")
			return nil
		}
		return fmt.Errorf("service/auth: looking up member: %w", err)
	}

	token, err := s.newToken()
	if err != nil {
		return fmt.Errorf("service/auth: %w", err)
	}
	rt := &model.RoutingToken{
		Token:     token,
		Email:     email,
		Purpose:   model.PurposePasswordReset,
		CreatedAt: s.now(),
	}
	if err := s.store.RoutingTokens().Create(ctx, rt); err != nil {
		return fmt.Errorf("service/auth: storing reset token: %w", err)
	}

	if err := s.notifier.PasswordReset(ctx, email, token); err != nil {
		s.logger.Error("sending password reset", slog.String("error", err.Error()))
	}
	return nil
}

// ResetPassword redeems a reset token. Marking the token used, replacing the
// hash and revoking every existing session happen in one transaction, so a
// token can only ever be spent once and an attacker holding an old session
// is signed out.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword, confirmedNewPassword string) (err error) {
	defer func() { s.metrics.AuthEvent("reset_password", err) }()

	if token == "" {
		return apperror.InvalidToken()
	}
	rt, err := s.store.RoutingTokens().Get(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidToken) {
			return err
		}
		return fmt.Errorf("service/auth: loading reset token: %w", err)
	}
	if rt.Purpose != model.PurposePasswordReset || rt.UsedAt != nil || rt.ExpiredAt(s.now(), s.cfg.ResetTokenTTL) {
		return apperror.InvalidToken()
	}

	if newPassword != confirmedNewPassword {
		return apperror.PasswordsDoNotMatch()
	}
	if err := required("newPassword", newPassword); err != nil {
		return err
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}
	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	var memberID string
	err = s.store.InTx(ctx, func(tx repository.Stores) error {
		if err := tx.RoutingTokens().MarkUsed(ctx, token, s.now()); err != nil {
			return err
		}
		member, err := tx.Members().GetByEmail(ctx, rt.Email)
		if errors.Is(err, apperror.ErrMemberNotFound) {
			return apperror.InvalidToken()
		}
		if err != nil {
			return err
		}
		memberID = member.ID
		if err := tx.Members().UpdatePasswordHash(ctx, member.ID, hash); err != nil {
			return err
		}
		_, err = tx.Sessions().DeleteByMember(ctx, member.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("service/auth: resetting password: %w", err)
	}

	s.logger.Info("password reset", slog.String("memberID", memberID))
	return nil
}

// SignInWithGitHub signs in the member owning the GitHub account's email,
// creating one on first visit. New members get a random password they never
// see; they can set a real one through the reset flow.
func (s *AuthService) SignInWithGitHub(ctx context.Context, gh *auth.GitHubUser) (result *SignInResult, err error) {
	defer func() { s.metrics.AuthEvent("sign_in_github", err) }()

	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}
	email := normalizeEmail(gh.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "GitHub account has no verified email")
	}

	member, err := s.store.Members().GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrMemberNotFound):
		member, err = s.createGitHubMember(ctx, gh.Login, email)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("service/auth: looking up member: %w", err)
	}

	sess, err := s.openSession(ctx, s.store.Sessions(), member)
	if err != nil {
		return nil, err
	}

	s.logger.Info("member signed in via GitHub",
		slog.String("memberID", member.ID),
		slog.Int64("githubID", gh.ID),
	)
	return &SignInResult{Member: member, Session: sess}, nil
}

// createGitHubMember registers a member for a first GitHub sign-in. The
// username is derived from the GitHub login: logins can run longer than
// MaxUsernameLength and may already be taken here, so the login is
// truncated and, on a collision, given a short random suffix.
func (s *AuthService) createGitHubMember(ctx context.Context, login, email string) (*model.Member, error) {
	secret, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}
	hash, err := s.passwords.Hash(secret)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	for attempt := 1; ; attempt++ {
		m := &model.Member{Username: githubUsername(login, attempt), Email: email, PasswordHash: hash}
		err := s.store.Members().Create(ctx, m)
		switch {
		case err == nil:
			return m, nil
		case errors.Is(err, apperror.ErrEmailAlreadyRegistered):
			// A concurrent sign-in for the same account got there first.
			return s.store.Members().GetByEmail(ctx, email)
		case errors.Is(err, apperror.ErrUsernameAlreadyRegistered) && attempt < githubNameAttempts:
			s.logger.Debug("GitHub username taken, retrying with suffix", slog.String("username", m.Username))
		default:
			return nil, fmt.Errorf("service/auth: creating member: %w", err)
		}
	}
}

// githubUsername returns the username to try on the given attempt: the
// login itself first, then the login with a random suffix.
func githubUsername(login string, attempt int) string {
	name := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(login))
	if name == "" {
		name = "github"
	}
	if attempt <= 1 {
		return truncate(name, MaxUsernameLength)
	}
	id := xid.New().String()
	suffix := "-" + id[len(id)-githubSuffixLength:]
	return truncate(name, MaxUsernameLength-len(suffix)) + suffix
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// PurgeExpired deletes sessions past SessionTTL and reset tokens past
// ResetTokenTTL. It returns the number of sessions removed.
func (s *AuthService) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()

	var sessions int64
	if s.cfg.SessionTTL > 0 {
		n, err := s.store.Sessions().DeleteCreatedBefore(ctx, now.Add(-s.cfg.SessionTTL))
		if err != nil {
			return 0, fmt.Errorf("service/auth: purging sessions: %w", err)
		}
		sessions = n
		s.metrics.SessionsPurged(n)
	}

	if s.cfg.ResetTokenTTL > 0 {
		if _, err := s.store.RoutingTokens().DeleteCreatedBefore(ctx, now.Add(-s.cfg.ResetTokenTTL)); err != nil {
			return sessions, fmt.Errorf("service/auth: purging routing tokens: %w", err)
		}
	}

	if sessions > 0 {
		s.logger.Info("expired sessions purged", slog.Int64("count", sessions))
	}
	return sessions, nil
}

// openSession creates a session for member, drawing a new token if the first
// one happens to collide.
func (s *AuthService) openSession(ctx context.Context, sessions repository.SessionRepository, member *model.Member) (*model.Session, error) {
	for attempt := 1; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("service/auth: %w", err)
		}

		sess := &model.Session{Token: token, MemberID: member.ID, Member: member, CreatedAt: s.now()}
		err = sessions.Create(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, apperror.ErrConflict) || attempt == tokenAttempts {
			return nil, fmt.Errorf("service/auth: creating session: %w", err)
		}
		s.logger.Warn("session token collision, retrying", slog.Int("attempt", attempt))
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// required takes name/value pairs and fails on the first empty value.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return apperror.ValidationFailed(pairs[i], pairs[i]+" is required")
		}
	}
	return nil
}

func validateEmail(email string) error {
	if len(email) > MaxEmailLength || validate.Var(email, "email") != nil {
		return apperror.ValidationFailed("email", "invalid email format")
	}
	return nil
}

func validateUsername(username string) error {
	if username == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(username) > MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be %d characters or less", MaxUsernameLength))
	}
	if strings.ContainsFunc(username, func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return apperror.ValidationFailed("username", "username contains invalid characters")
	}
	return nil
}

func validatePassword(field, password string) error {
	if len(password) > auth.MaxPasswordBytes {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be %d bytes or fewer", auth.MaxPasswordBytes))
	}
	return nil
}
