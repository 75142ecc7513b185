package handler

import (
	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/service"
)

// MemberResolvers exposes the account operations. Each resolver does one
// service call and, for sign-in and sign-out, the cookie side effect; the
// rules themselves live in service.AuthService.
type MemberResolvers struct {
	auth    *service.AuthService
	cookies auth.CookieConfig
}

func NewMemberResolvers(authService *service.AuthService, cookies auth.CookieConfig) *MemberResolvers {
	return &MemberResolvers{auth: authService, cookies: cookies}
}

type signUpArgs struct {
	Username          string `json:"username"`
	Email             string `json:"email"`
	Password          string `json:"password"`
	ConfirmedPassword string `json:"confirmedPassword"`
}

type signInArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateUsernameArgs struct {
	Username string `json:"username"`
}

type memberByUsernameArgs struct {
	Username string `json:"username" validate:"required"`
}

type updateEmailArgs struct {
	Email string `json:"email"`
}

type updatePasswordArgs struct {
	OldPassword          string `json:"oldPassword"`
	NewPassword          string `json:"newPassword"`
	ConfirmedNewPassword string `json:"confirmedNewPassword"`
}

type deleteAccountArgs struct {
	Password string `json:"password"`
}

type requestPasswordResetArgs struct {
	Email string `json:"email" validate:"required"`
}

type resetPasswordArgs struct {
	Token                string `json:"token" validate:"required"`
	NewPassword          string `json:"newPassword"`
	ConfirmedNewPassword string `json:"confirmedNewPassword"`
}

// Operations returns the account operations for the registry.
func (h *MemberResolvers) Operations() map[string]Operation {
	return map[string]Operation{
		"signUp":               op(false, h.signUp).throttled(),
		"signIn":               op(false, h.signIn).throttled(),
		"signOut":              op(true, h.signOut),
		"profile":              op(true, h.profile),
		"memberByUsername":     op(true, h.memberByUsername),
		"updateUsername":       op(true, h.updateUsername),
		"updateEmail":          op(true, h.updateEmail),
		"updatePassword":       op(true, h.updatePassword).throttled(),
		"deleteAccount":        op(true, h.deleteAccount).throttled(),
		"requestPasswordReset": op(false, h.requestPasswordReset).throttled(),
		"resetPassword":        op(false, h.resetPassword).throttled(),
	}
}

func (h *MemberResolvers) signUp(c *Call, a *signUpArgs) (any, error) {
	return h.auth.SignUp(c.Ctx, a.Username, a.Email, a.Password, a.ConfirmedPassword)
}

// signIn moves the new session token into the cookie; the token never
// appears in the response body.
func (h *MemberResolvers) signIn(c *Call, a *signInArgs) (any, error) {
	res, err := h.auth.SignIn(c.Ctx, a.Email, a.Password)
	if err != nil {
		return nil, err
	}
	auth.SetSessionCookie(c.W, h.cookies, res.Session.Token)
	return res.Member, nil
}

func (h *MemberResolvers) signOut(c *Call, _ *NoArgs) (any, error) {
	token, ok := auth.SessionTokenFromContext(c.Ctx)
	if !ok {
		return nil, apperror.SessionNotFound()
	}
	if err := h.auth.SignOut(c.Ctx, token); err != nil {
		return nil, err
	}
	auth.ClearSessionCookie(c.W, h.cookies)
	return true, nil
}

func (h *MemberResolvers) profile(c *Call, _ *NoArgs) (any, error) {
	return c.Member, nil
}

func (h *MemberResolvers) memberByUsername(c *Call, a *memberByUsernameArgs) (any, error) {
	return h.auth.FindByUsername(c.Ctx, a.Username)
}

func (h *MemberResolvers) updateUsername(c *Call, a *updateUsernameArgs) (any, error) {
	return h.auth.UpdateUsername(c.Ctx, c.Member.ID, a.Username)
}

func (h *MemberResolvers) updateEmail(c *Call, a *updateEmailArgs) (any, error) {
	return h.auth.UpdateEmail(c.Ctx, c.Member.ID, a.Email)
}

func (h *MemberResolvers) updatePassword(c *Call, a *updatePasswordArgs) (any, error) {
	return h.auth.UpdatePassword(c.Ctx, c.Member, a.OldPassword, a.NewPassword, a.ConfirmedNewPassword)
}

func (h *MemberResolvers) deleteAccount(c *Call, a *deleteAccountArgs) (any, error) {
	if err := h.auth.DeleteAccount(c.Ctx, c.Member, a.Password); err != nil {
		return nil, err
	}
	auth.ClearSessionCookie(c.W, h.cookies)
	return true, nil
}

func (h *MemberResolvers) requestPasswordReset(c *Call, a *requestPasswordResetArgs) (any, error) {
	if err := h.auth.RequestPasswordReset(c.Ctx, a.Email); err != nil {
		return nil, err
	}
	return true, nil
}

func (h *MemberResolvers) resetPassword(c *Call, a *resetPasswordArgs) (any, error) {
	if err := h.auth.ResetPassword(c.Ctx, a.Token, a.NewPassword, a.ConfirmedNewPassword); err != nil {
		return nil, err
	}
	return true, nil
}
