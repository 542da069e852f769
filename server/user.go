package main

import (
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/martini-contrib/render"
	. "github.com/russross/practicalgrader/types"
	"golang.org/x/text/message"
)

// GetUserMe handles /v2/users/me requests,
// returning the current user.
func GetUserMe(w http.ResponseWriter, currentUser *User, render render.Render) {
	render.JSON(http.StatusOK, currentUser)
}

// PostUserSession handles /v2/users/session requests,
// exchanging a web service token for a signed session cookie.
func PostUserSession(w http.ResponseWriter, p *message.Printer, currentUser *User, creds *credentials, render render.Render) {
	if !creds.Token {
		loggedExternalError(w, p, http.StatusUnauthorized, "moodle_exception", "invalidtoken", nil,
			"session requested by %s without a token", currentUser.Username)
		return
	}
	session := NewSession(currentUser.ID, creds.Service, time.Now())
	cookie, err := session.Save(w)
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "%v", err)
		return
	}
	log.Printf("session issued to %s for service %s", currentUser.Username, creds.Service)

	result := map[string]string{"Cookie": cookie}
	render.JSON(http.StatusOK, result)
}

// GetFunctions handles /v2/functions requests,
// returning the declared web service functions.
func GetFunctions(w http.ResponseWriter, render render.Render) {
	var names []string
	for name := range Functions {
		names = append(names, name)
	}
	sort.Strings(names)

	list := []*ExternalFunction{}
	for _, name := range names {
		list = append(list, Functions[name])
	}
	render.JSON(http.StatusOK, list)
}
