package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-martini/martini"
	"github.com/russross/practicalgrader/grader"
	"github.com/russross/practicalgrader/host"
	. "github.com/russross/practicalgrader/types"
	"golang.org/x/text/message"
)

// credentials records how the current user authenticated.
type credentials struct {
	// service the token (or the session it was exchanged for) was issued for
	Service string

	// true when a web service token was presented with this request
	Token bool
}

// requestToken finds a web service token in the wstoken parameter or an
// Authorization: Bearer header.
func requestToken(r *http.Request) string {
	if token := r.FormValue("wstoken"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// martini service: include the current user (requires withTx)
func withCurrentUser(c martini.Context, w http.ResponseWriter, r *http.Request, store *host.Store, p *message.Printer) {
	if token := requestToken(r); token != "" {
		user, tok, err := store.LookupToken(token, time.Now())
		if errors.Is(err, grader.ErrNotFound) {
			loggedExternalError(w, p, http.StatusUnauthorized, "moodle_exception", "invalidtoken", nil,
				"token rejected: %v", err)
			return
		} else if err != nil {
			loggedExternalError(w, p, http.StatusInternalServerError, "dml_exception", "dberror", nil,
				"db error: %v", err)
			return
		}
		c.Map(user)
		c.Map(&credentials{Service: tok.Service, Token: true})
		return
	}

	session, err := GetSession(r)
	if err != nil {
		loggedExternalError(w, p, http.StatusUnauthorized, "moodle_exception", "invalidtoken", nil,
			"authentication failed: %v", err)
		return
	}

	// load the user record
	user, err := store.User(session.UserID)
	if err == nil && user.Deleted {
		err = grader.ErrNotFound
	}
	if err != nil {
		session.Delete(w)

		if errors.Is(err, grader.ErrNotFound) {
			loggedExternalError(w, p, http.StatusUnauthorized, "moodle_exception", "invalidtoken", nil,
				"user %d not found", session.UserID)
			return
		}
		loggedExternalError(w, p, http.StatusInternalServerError, "dml_exception", "dberror", nil,
			"db error: %v", err)
		return
	}

	c.Map(user)
	c.Map(&credentials{Service: session.Service})
}

// serviceGate returns a martini service that admits a caller to a function
// only through the service that exposes it: the caller's token must belong
// to that service and the caller must hold the service's capability.
// It requires withCurrentUser.
func serviceGate(function string) martini.Handler {
	return func(w http.ResponseWriter, p *message.Printer, store *host.Store, currentUser *User, creds *credentials) {
		service := ServiceFor(function)
		if service == nil || !service.Enabled {
			loggedExternalError(w, p, http.StatusNotFound, "moodle_exception", "invalidfunction",
				[]interface{}{function}, "function %s is not exposed by any enabled service", function)
			return
		}
		if creds.Service != service.ShortName {
			loggedExternalError(w, p, http.StatusForbidden, "webservice_access_exception", "accessexception",
				[]interface{}{service.ShortName}, "user %s presented credentials for service %q, not %q",
				currentUser.Username, creds.Service, service.ShortName)
			return
		}

		allowed, err := store.HasCapability(currentUser.ID, service.RequiredCapability, grader.SystemContext())
		if err != nil {
			loggedExternalError(w, p, http.StatusInternalServerError, "dml_exception", "dberror", nil,
				"db error checking %s: %v", service.RequiredCapability, err)
			return
		}
		if !allowed {
			loggedExternalError(w, p, http.StatusForbidden, "webservice_access_exception", "accessexception",
				[]interface{}{service.RequiredCapability}, "user %s lacks %s", currentUser.Username, service.RequiredCapability)
			return
		}
	}
}
