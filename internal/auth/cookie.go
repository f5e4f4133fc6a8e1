// ABOUTME: Session cookie middleware binding a browser to a session id
// ABOUTME: Issues a fresh signed cookie whenever the current one is missing or stale

package auth

import (
	"log/slog"
	"net/http"
	"time"
)

// CookieName is the session cookie's name.
const CookieName = "console_session"

// Sessions decides whether a verified id still refers to live state and
// creates new sessions.
type Sessions interface {
	Exists(id string) bool
	Create() string
}

// SessionCookie issues and reads the session cookie.
type SessionCookie struct {
	Signer   *JWTSigner
	Sessions Sessions
	TTL      time.Duration
	Secure   bool

	logger *slog.Logger
}

// NewSessionCookie creates the middleware. ttl bounds the cookie lifetime;
// idle expiry of the state itself is the session store's concern.
func NewSessionCookie(signer *JWTSigner, sessions Sessions, ttl time.Duration, secure bool) *SessionCookie {
	return &SessionCookie{
		Signer:   signer,
		Sessions: sessions,
		TTL:      ttl,
		Secure:   secure,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Middleware attaches a live session id to every request.
func (c *SessionCookie) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := c.read(r)
		if id == "" {
			id = c.Sessions.Create()
			if err := c.write(w, id); err != nil {
				c.logger.Error("failed to sign session cookie", "error", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			c.logger.Debug("issued session", "session_id", id)
		}
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
	})
}

func (c *SessionCookie) read(r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	id, err := c.Signer.Verify(cookie.Value)
	if err != nil {
		c.logger.Debug("discarding session cookie", "error", err)
		return ""
	}
	if !c.Sessions.Exists(id) {
		return ""
	}
	return id
}

func (c *SessionCookie) write(w http.ResponseWriter, id string) error {
	token, err := c.Signer.Generate(id, c.TTL)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}
