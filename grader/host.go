package grader

import (
	"errors"
	"time"

	"golang.org/x/text/message"
)

// ErrNotFound is returned by a Host when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// ContextLevel identifies the scope a capability is checked in.
type ContextLevel int

const (
	ContextSystem ContextLevel = 10
	ContextCourse ContextLevel = 50
	ContextModule ContextLevel = 70
)

// Context is a scope for capability checks.
type Context struct {
	Level      ContextLevel
	InstanceID int64
}

func SystemContext() Context {
	return Context{Level: ContextSystem}
}

func CourseContext(courseID int64) Context {
	return Context{Level: ContextCourse, InstanceID: courseID}
}

func ModuleContext(cmID int64) Context {
	return Context{Level: ContextModule, InstanceID: cmID}
}

// ModuleRef is the projection of a course module found by its external key.
type ModuleRef struct {
	ID       int64
	IDNumber string
}

type Course struct {
	ID        int64
	ShortName string
}

// Module is a resolved course module: which activity instance of which type
// lives in which course.
type Module struct {
	ID       int64
	CourseID int64
	Type     string
	Instance int64
}

// ActivityRecord is the full per-type activity row, augmented with the
// external key of its course module.
type ActivityRecord struct {
	ID         int64
	CourseID   int64
	Type       string
	Name       string
	Grade      float64
	CMIDNumber string
}

type UserRef struct {
	ID       int64
	Username string
	Email    string
}

// Caller is the authenticated identity making the call.
type Caller struct {
	ID       int64
	Username string
}

// GradePayload is one grade handed to a grade-update routine.
type GradePayload struct {
	UserID        int64
	RawGrade      string
	UserModified  int64
	DateSubmitted *time.Time
	DateGraded    time.Time
}

// GradeType values for a grade item.
const (
	GradeTypeNone  = 0
	GradeTypeValue = 1
	GradeTypeScale = 2
)

// GradeItemSpec describes the grade item a routine wants its grade stored in.
// The host creates the item when it does not exist yet.
type GradeItemSpec struct {
	CourseID     int64
	ItemModule   string
	ItemInstance int64
	ItemNumber   int64
	ItemName     string
	IDNumber     string
	GradeType    int
	GradeMax     float64
	GradeMin     float64
}

// Gradebook is the host's core grade storage API.
type Gradebook interface {
	GradeUpdate(item *GradeItemSpec, grade *GradePayload) (Outcome, error)
}

// Host bundles the host platform services the handler depends on.
type Host interface {
	Gradebook

	FindModuleByExternalKey(key string) (*ModuleRef, error)
	ResolveCourseAndModule(moduleID int64) (*Course, *Module, error)
	TypeSupportsGrading(moduleType string) (bool, error)
	CapabilityDeclared(name string) (bool, error)
	HasCapability(userID int64, name string, ctx Context) (bool, error)
	LoadActivityRecord(moduleType string, instance int64) (*ActivityRecord, error)
	SearchUsersByEmail(courseID int64, email string) ([]*UserRef, error)
}

// Call carries everything that is specific to one invocation.
type Call struct {
	Caller  Caller
	Host    Host
	Printer *message.Printer
}

func (call *Call) printer() *message.Printer {
	if call.Printer != nil {
		return call.Printer
	}
	return DefaultPrinter()
}
