package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/service"
)

const (
	stateCookieName = "oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// GitHubClient is the part of auth.GitHubProvider the login flow uses.
type GitHubClient interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler runs the GitHub OAuth login flow and ends it the same way a
// password sign-in ends: with a server-side session in a cookie.
//
//   - HandleGitHubLogin    → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback → receive the code, sign the member in, set the cookie
type AuthHandler struct {
	github  GitHubClient
	auth    *service.AuthService
	cookies auth.CookieConfig
	// appURL is where the browser lands after the callback.
	appURL string
	logger *slog.Logger
}

func NewAuthHandler(
	github GitHubClient,
	authService *service.AuthService,
	cookies auth.CookieConfig,
	appURL string,
	logger *slog.Logger,
) *AuthHandler {
	if appURL == "" {
		appURL = "/"
	}
	return &AuthHandler{
		github:  github,
		auth:    authService,
		cookies: cookies,
		appURL:  appURL,
		logger:  logger,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// A random state value goes both into a short-lived cookie and into the
// redirect. The callback only proceeds when the two match, which proves the
// flow was started from this browser.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth/github",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for a GitHub profile
//  3. Find or create the member and open a session
//  4. Set the session cookie and redirect to the app
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The state cookie is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookieName,
		Value:  "",
		Path:   "/auth/github",
		MaxAge: -1,
	})

	// The user may have denied authorization on GitHub's page.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, h.appURL+"?auth=denied", http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for GitHub profile ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	// --- Step 3: Sign in ---
	res, err := h.auth.SignInWithGitHub(r.Context(), ghUser)
	if err != nil {
		entry, status := errorEntry(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("auth callback: sign-in failed",
				slog.Int64("githubID", ghUser.ID),
				slog.String("error", err.Error()),
			)
		}
		http.Error(w, entry.Message, status)
		return
	}

	// --- Step 4: Session cookie, then back to the app ---
	auth.SetSessionCookie(w, h.cookies, res.Session.Token)
	http.Redirect(w, r, h.appURL, http.StatusSeeOther)
}
