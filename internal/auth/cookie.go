package auth

import (
	"net/http"
	"time"
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Domain string
	Secure bool
	// MaxAge is how long the browser keeps the cookie. Zero makes it a
	// browser-session cookie.
	MaxAge time.Duration
}

// SetSessionCookie hands a fresh session token to the browser. HttpOnly
// keeps it out of reach of page scripts; SameSite=Lax stops it riding along
// on cross-site POSTs.
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string) {
	c := &http.Cookie{
		Name:     cfg.Name,
		Value:    token,
		Path:     cookiePath(cfg),
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if cfg.MaxAge > 0 {
		c.MaxAge = int(cfg.MaxAge.Seconds())
		c.Expires = time.Now().Add(cfg.MaxAge)
	}
	http.SetCookie(w, c)
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cookiePath(cfg),
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookiePath(cfg CookieConfig) string {
	if cfg.Path == "" {
		return "/"
	}
	return cfg.Path
}
