// Package host is a small learning-platform host backed by sqlite: courses,
// activities, users, enrolments, capabilities and a gradebook. It provides
// the services the grader package needs.
package host

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/russross/meddler"
	"github.com/russross/practicalgrader/grader"
	. "github.com/russross/practicalgrader/types"
)

// Store implements grader.Host on top of one database handle,
// normally the transaction of the current request.
type Store struct {
	db    meddler.DB
	trace *log.Logger
}

var _ grader.Host = (*Store)(nil)

// New returns a store using db. Gradebook diagnostics go to trace;
// a nil trace discards them.
func New(db meddler.DB, trace io.Writer) *Store {
	if trace == nil {
		trace = io.Discard
	}
	return &Store{
		db:    db,
		trace: log.New(trace, "gradebook: ", 0),
	}
}

func (s *Store) FindModuleByExternalKey(key string) (*grader.ModuleRef, error) {
	refs := []*struct {
		ID       int64  `meddler:"id,pk"`
		IDNumber string `meddler:"idnumber"`
	}{}
	if err := meddler.QueryAll(s.db, &refs, `SELECT id, idnumber FROM course_modules WHERE idnumber = ?`, key); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	switch len(refs) {
	case 0:
		return nil, grader.ErrNotFound
	case 1:
		return &grader.ModuleRef{ID: refs[0].ID, IDNumber: refs[0].IDNumber}, nil
	}
	return nil, fmt.Errorf("idnumber %q is shared by %d course modules", key, len(refs))
}

func (s *Store) ResolveCourseAndModule(moduleID int64) (*grader.Course, *grader.Module, error) {
	cm := new(CourseModule)
	if err := meddler.Load(s.db, "course_modules", cm, moduleID); err != nil {
		return nil, nil, notFound(err, "course module %d", moduleID)
	}
	module := new(Module)
	if err := meddler.Load(s.db, "modules", module, cm.ModuleID); err != nil {
		return nil, nil, notFound(err, "module %d", cm.ModuleID)
	}
	course := new(Course)
	if err := meddler.Load(s.db, "courses", course, cm.CourseID); err != nil {
		return nil, nil, notFound(err, "course %d", cm.CourseID)
	}

	return &grader.Course{ID: course.ID, ShortName: course.ShortName},
		&grader.Module{ID: cm.ID, CourseID: cm.CourseID, Type: module.Name, Instance: cm.Instance},
		nil
}

// TypeSupportsGrading reports the declared grade feature of an installed
// activity type. Unknown types support nothing.
func (s *Store) TypeSupportsGrading(moduleType string) (bool, error) {
	var supports bool
	err := s.db.QueryRow(`SELECT supports_grade FROM modules WHERE name = ?`, moduleType).Scan(&supports)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return supports, nil
}

func (s *Store) CapabilityDeclared(name string) (bool, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM capabilities WHERE name = ?`, name).Scan(&count); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return count > 0, nil
}

// HasCapability checks the user's role assignments in ctx and every parent
// context. Site administrators hold every capability; deleted and unknown
// users hold none.
func (s *Store) HasCapability(userID int64, name string, ctx grader.Context) (bool, error) {
	user := new(User)
	if err := meddler.Load(s.db, "users", user, userID); err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	if user.Deleted {
		return false, nil
	}
	if user.Admin {
		return true, nil
	}

	path, err := s.contextPath(ctx)
	if err != nil {
		return false, err
	}
	for _, elt := range path {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM role_assignments `+
			`WHERE user_id = ? AND capability = ? AND context_level = ? AND instance_id = ?`,
			userID, name, int(elt.Level), elt.InstanceID).Scan(&count)
		if err != nil {
			return false, fmt.Errorf("db error: %w", err)
		}
		if count > 0 {
			return true, nil
		}
	}
	return false, nil
}

// contextPath lists ctx followed by its parents, ending with the system context.
func (s *Store) contextPath(ctx grader.Context) ([]grader.Context, error) {
	path := []grader.Context{ctx}
	switch ctx.Level {
	case grader.ContextModule:
		var courseID int64
		if err := s.db.QueryRow(`SELECT course FROM course_modules WHERE id = ?`, ctx.InstanceID).Scan(&courseID); err != nil {
			return nil, notFound(err, "course module %d", ctx.InstanceID)
		}
		path = append(path, grader.CourseContext(courseID), grader.SystemContext())
	case grader.ContextCourse:
		path = append(path, grader.SystemContext())
	case grader.ContextSystem:
	default:
		return nil, fmt.Errorf("unknown context level %d", ctx.Level)
	}
	return path, nil
}

func (s *Store) LoadActivityRecord(moduleType string, instance int64) (*grader.ActivityRecord, error) {
	if !tableName.MatchString(moduleType) {
		return nil, fmt.Errorf("illegal activity type name %q", moduleType)
	}
	activity := new(Activity)
	if err := meddler.Load(s.db, moduleType, activity, instance); err != nil {
		return nil, notFound(err, "%s %d", moduleType, instance)
	}
	return &grader.ActivityRecord{
		ID:       activity.ID,
		CourseID: activity.CourseID,
		Type:     moduleType,
		Name:     activity.Name,
		Grade:    activity.Grade,
	}, nil
}

// SearchUsersByEmail finds the enrolled, active users of a course whose email
// contains the search text, ignoring case.
func (s *Store) SearchUsersByEmail(courseID int64, email string) ([]*grader.UserRef, error) {
	where, args := addWhereEq("", nil, "enrolments.course_id", courseID)
	where, args = addWhereEq(where, args, "users.deleted", false)
	where, args = addWhereLike(where, args, "users.email", email)

	users := []*User{}
	err := meddler.QueryAll(s.db, &users, `SELECT DISTINCT users.* `+
		`FROM users JOIN enrolments ON users.id = enrolments.user_id`+
		where+` ORDER BY users.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	var refs []*grader.UserRef
	for _, user := range users {
		refs = append(refs, &grader.UserRef{ID: user.ID, Username: user.Username, Email: user.Email})
	}
	return refs, nil
}

// User loads a single user record.
func (s *Store) User(userID int64) (*User, error) {
	user := new(User)
	if err := meddler.Load(s.db, "users", user, userID); err != nil {
		return nil, notFound(err, "user %d", userID)
	}
	return user, nil
}

func notFound(err error, format string, params ...interface{}) error {
	what := fmt.Sprintf(format, params...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, grader.ErrNotFound)
	}
	return fmt.Errorf("db error loading %s: %w", what, err)
}

func addWhereEq(where string, args []interface{}, label string, value interface{}) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	args = append(args, value)
	where += fmt.Sprintf(" %s = ?", label)
	return where, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func addWhereLike(where string, args []interface{}, label string, value string) (string, []interface{}) {
	if where == "" {
		where = " WHERE"
	} else {
		where += " AND"
	}
	// sqlite LIKE folds ASCII case only; other characters match exactly
	args = append(args, "%"+likeEscaper.Replace(value)+"%")
	where += fmt.Sprintf(` %s LIKE ? ESCAPE '\'`, label)
	return where, args
}
