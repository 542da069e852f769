package main

import (
	"errors"
	"log"
	"net/http"

	"github.com/martini-contrib/render"
	"github.com/russross/practicalgrader/grader"
	"github.com/russross/practicalgrader/host"
	. "github.com/russross/practicalgrader/types"
	"golang.org/x/text/message"
)

// how each hard failure of a grade save is reported
var externalErrors = []struct {
	kind      error
	status    int
	exception string
}{
	{grader.ErrInvalidParameter, http.StatusBadRequest, "invalid_parameter_exception"},
	{grader.ErrActivityNotFound, http.StatusNotFound, "moodle_exception"},
	{grader.ErrActivityNotGradable, http.StatusUnprocessableEntity, "moodle_exception"},
	{grader.ErrUnauthorized, http.StatusForbidden, "required_capability_exception"},
	{grader.ErrStudentNotFound, http.StatusNotFound, "moodle_exception"},
	{grader.ErrAmbiguousStudent, http.StatusConflict, "moodle_exception"},
	{grader.ErrNoGradeUpdater, http.StatusInternalServerError, "coding_exception"},
}

// PostSaveGrade handles /v2/functions/local_practicalgrader_save requests,
// saving one grade for one student and returning the status string.
func PostSaveGrade(w http.ResponseWriter, params SaveGradeParams, handler *grader.Handler, store *host.Store, currentUser *User, p *message.Printer, render render.Render) {
	call := &grader.Call{
		Caller:  grader.Caller{ID: currentUser.ID, Username: currentUser.Username},
		Host:    store,
		Printer: p,
	}
	status, err := handler.SaveGrade(call, params.ActivityIDNumber, params.StudentEmail, params.ActivityGrade)
	if err != nil {
		gradesRejectedCounter.Add(1)

		var gradeErr *grader.Error
		if errors.As(err, &gradeErr) {
			for _, elt := range externalErrors {
				if errors.Is(gradeErr, elt.kind) {
					loggedExternalError(w, p, elt.status, elt.exception, gradeErr.Code, gradeErr.Args,
						"save grade by %s: %v", currentUser.Username, err)
					return
				}
			}
		}
		loggedExternalError(w, p, http.StatusInternalServerError, "dml_exception", "dberror", nil,
			"save grade by %s: %v", currentUser.Username, err)
		return
	}

	gradesSavedCounter.Add(1)
	log.Printf("grade saved by %s: activity %s, student %s, result %q",
		currentUser.Username, params.ActivityIDNumber, params.StudentEmail, status)
	render.JSON(http.StatusOK, status)
}
