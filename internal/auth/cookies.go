package auth

import (
	"net/http"
	"time"

	"github.com/tripmesh/tripmesh/internal/config"
)

// RefreshCookieName is the cookie carrying the opaque refresh-session token.
const RefreshCookieName = "refresh_token"

// RefreshCookiePath scopes the cookie to the auth routes so it is not sent
// with every API request.
const RefreshCookiePath = "/auth"

// SetRefreshCookie sets the refresh-session token in an httpOnly cookie.
func SetRefreshCookie(w http.ResponseWriter, token string, maxAge time.Duration, cfg config.CookieConfig) {
	cookie := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     RefreshCookiePath,
		Domain:   cfg.Domain,
		Expires:  time.Now().Add(maxAge),
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true, // Prevents JavaScript access
		Secure:   cfg.Secure,
		SameSite: parseSameSite(cfg.SameSite),
	}
	http.SetCookie(w, cookie)
}

// ClearRefreshCookie deletes the refresh-session cookie.
func ClearRefreshCookie(w http.ResponseWriter, cfg config.CookieConfig) {
	cookie := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     RefreshCookiePath,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: parseSameSite(cfg.SameSite),
	}
	http.SetCookie(w, cookie)
}

// GetRefreshCookie retrieves the refresh-session token from the request.
func GetRefreshCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
