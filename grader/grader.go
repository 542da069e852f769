// Package grader implements saving a grade for a student on an activity
// identified by its external key, on top of a host learning platform.
package grader

import (
	"errors"
	"fmt"
	"time"
)

const (
	// fallback when an activity type declares no grade capability of its own
	markCompleteCapability = "moodle/course:markcomplete"
)

// Handler runs save-grade calls. It holds no per-call state.
type Handler struct {
	Updaters *Registry
	Now      func() time.Time
}

func NewHandler(updaters *Registry) *Handler {
	return &Handler{Updaters: updaters, Now: time.Now}
}

// GradeCapability returns the per-type grade capability name.
func GradeCapability(moduleType string) string {
	return "mod/" + moduleType + ":grade"
}

// SaveGrade validates the parameters, resolves the activity and the student,
// checks that the caller may grade the activity, and passes the grade to the
// activity type's grade-update routine.
//
// Hard failures are returned as errors and happen before anything is written.
// Soft outcomes reported by the gradebook come back as a status string.
func (h *Handler) SaveGrade(call *Call, activityKey, studentEmail, gradeValue string) (string, error) {
	if err := ValidateActivityKey(activityKey); err != nil {
		return "", err
	}
	if err := ValidateEmail(studentEmail); err != nil {
		return "", err
	}
	host := call.Host

	// identify the activity
	ref, err := host.FindModuleByExternalKey(activityKey)
	if errors.Is(err, ErrNotFound) {
		return "", newError(ErrActivityNotFound, "errornoactivity", activityKey)
	} else if err != nil {
		return "", fmt.Errorf("finding activity %s: %w", activityKey, err)
	}
	course, module, err := host.ResolveCourseAndModule(ref.ID)
	if err != nil {
		return "", fmt.Errorf("loading course module %d: %w", ref.ID, err)
	}

	gradable, err := host.TypeSupportsGrading(module.Type)
	if err != nil {
		return "", fmt.Errorf("checking features of %s: %w", module.Type, err)
	}
	if !gradable {
		return "", newError(ErrActivityNotGradable, "errornomodulegrades", activityKey, module.Type)
	}

	if err := h.authorize(call, course, module); err != nil {
		return "", err
	}

	activity, err := host.LoadActivityRecord(module.Type, module.Instance)
	if err != nil {
		return "", fmt.Errorf("loading %s %d: %w", module.Type, module.Instance, err)
	}
	activity.Type = module.Type
	activity.CMIDNumber = ref.IDNumber

	// identify the student among the users of the course
	students, err := host.SearchUsersByEmail(course.ID, studentEmail)
	if err != nil {
		return "", fmt.Errorf("searching course %d for %s: %w", course.ID, studentEmail, err)
	}
	switch len(students) {
	case 0:
		return "", newError(ErrStudentNotFound, "errornocourseuser", studentEmail)
	case 1:
	default:
		return "", newError(ErrAmbiguousStudent, "errortoomanyusers", studentEmail)
	}
	student := students[0]

	updater, ok := h.Updaters.Lookup(module.Type)
	if !ok {
		return "", newError(ErrNoGradeUpdater, "errornoupdater", module.Type)
	}

	grade := &GradePayload{
		UserID:       student.ID,
		RawGrade:     gradeValue,
		UserModified: call.Caller.ID,
		DateGraded:   h.Now(),
	}
	outcome, err := updater.UpdateGrade(host, activity, grade)
	if err != nil {
		return "", fmt.Errorf("updating grade for %s in %s: %w", studentEmail, activityKey, err)
	}

	p := call.printer()
	switch outcome {
	case Failed:
		return p.Sprintf("errorgradeupdate"), nil
	case ItemLocked:
		return p.Sprintf("errorgradelocked"), nil
	case MultipleItems:
		return p.Sprintf("errorgrademultiple"), nil
	}
	return StatusOK, nil
}

// authorize requires the type's grade capability in the module context, or
// the course-level mark complete capability for types that declare none.
func (h *Handler) authorize(call *Call, course *Course, module *Module) error {
	host := call.Host
	capability := GradeCapability(module.Type)

	declared, err := host.CapabilityDeclared(capability)
	if err != nil {
		return fmt.Errorf("looking up capability %s: %w", capability, err)
	}

	var allowed bool
	if declared {
		allowed, err = host.HasCapability(call.Caller.ID, capability, ModuleContext(module.ID))
	} else {
		allowed, err = host.HasCapability(call.Caller.ID, markCompleteCapability, CourseContext(course.ID))
	}
	if err != nil {
		return fmt.Errorf("checking capability %s for %s: %w", capability, call.Caller.Username, err)
	}
	if !allowed {
		return newError(ErrUnauthorized, "errornocapability", call.Caller.Username, capability)
	}
	return nil
}
