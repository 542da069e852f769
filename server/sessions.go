package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	. "github.com/russross/practicalgrader/types"
)

// CookieSession is a signed session handed out in exchange for a web
// service token. It carries the token's service so the service gate
// treats both alike.
type CookieSession struct {
	ExpiresAt time.Time
	UserID    int64
	Service   string
	path      string
}

func NewSession(id int64, service string, now time.Time) *CookieSession {
	return &CookieSession{
		ExpiresAt: now.Add(time.Duration(Config.SessionHours) * time.Hour),
		UserID:    id,
		Service:   service,
		path:      "/",
	}
}

func GetSession(r *http.Request) (*CookieSession, error) {
	now := time.Now()

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("unable to read session cookie")
	}

	// decode and verify signature
	session := new(CookieSession)
	secure := securecookie.New([]byte(Config.SessionSecret), nil)
	secure.MaxAge(0)
	if err = secure.Decode(CookieName, cookie.Value, session); err != nil {
		return nil, fmt.Errorf("unable to decode session cookie")
	}

	// check expiration
	if session.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("session is expired; must log in again to continue")
	}

	// sanity check
	if session.UserID < 1 {
		return nil, fmt.Errorf("session does not contain a legal user ID field")
	}
	session.path = "/"

	return session, nil
}

// Save signs the session, sets it as a cookie, and returns the cookie
// in name=value form for clients that manage their own headers.
func (session *CookieSession) Save(w http.ResponseWriter) (string, error) {
	// encode and sign
	secure := securecookie.New([]byte(Config.SessionSecret), nil)
	secure.MaxAge(0)
	encoded, err := secure.Encode(CookieName, session)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     session.path,
		Expires:  session.ExpiresAt,
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		Secure:   true,
		HttpOnly: true,
	}
	http.SetCookie(w, cookie)
	return fmt.Sprintf("%s=%s", CookieName, encoded), nil
}

func (session *CookieSession) Delete(w http.ResponseWriter) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	cookie := &http.Cookie{
		Name:    CookieName,
		Value:   "deleted",
		Path:    session.path,
		Expires: epoch,
		MaxAge:  -1,
		Secure:  true,
	}
	http.SetCookie(w, cookie)
}
