package host

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/russross/meddler"
	"github.com/russross/practicalgrader/grader"
	. "github.com/russross/practicalgrader/types"
	"gopkg.in/gcfg.v1"
)

// Fixture is a site description: the courses, activity types, activities,
// users, grants and tokens a host starts with. Subsections are keyed by the
// natural name of each record (course shortname, activity idnumber, etc.).
type Fixture struct {
	Course map[string]*struct {
		FullName string
		IDNumber string
	}
	Module map[string]*struct {
		Grade      bool
		Capability []string
		Hidden     bool
	}
	User map[string]*struct {
		Email     string
		FirstName string
		LastName  string
		Admin     bool
		Deleted   bool
		Enrol     []string
	}
	Activity map[string]*struct {
		Type   string
		Course string
		Name   string
		Grade  float64
		Hidden bool
	}
	Capability map[string]*struct {
		Description string
	}
	Grant map[string]*struct {
		User       string
		Capability string
		Context    string
		Instance   string
	}
	GradeItem map[string]*struct {
		Activity string
		Number   int64
		Locked   bool
	}
	Token map[string]*struct {
		User       string
		Service    string
		ValidUntil string
	}
}

// LoadFixture reads a gcfg site description from path and inserts it.
func LoadFixture(db meddler.DB, path string) error {
	var fix Fixture
	if err := gcfg.ReadFileInto(&fix, path); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return fix.insert(db, time.Now())
}

// LoadFixtureString is LoadFixture for a description held in memory.
func LoadFixtureString(db meddler.DB, text string) error {
	var fix Fixture
	if err := gcfg.ReadStringInto(&fix, text); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}
	return fix.insert(db, time.Now())
}

func (fix *Fixture) insert(db meddler.DB, now time.Time) error {
	moduleIDs := make(map[string]int64)
	courseIDs := make(map[string]int64)
	userIDs := make(map[string]int64)
	cmIDs := make(map[string]int64)

	// records named by this fixture first, then those already in the database
	resolve := func(ids map[string]int64, table, column, key string) (int64, bool) {
		if id, ok := ids[key]; ok {
			return id, true
		}
		var id int64
		if err := db.QueryRow(`SELECT id FROM `+table+` WHERE `+column+` = ?`, key).Scan(&id); err != nil {
			return 0, false
		}
		ids[key] = id
		return id, true
	}

	// activity types
	for _, name := range sortedKeys(fix.Module) {
		elt := fix.Module[name]
		if err := createActivityTable(db, name); err != nil {
			return err
		}
		module := &Module{Name: name, Visible: !elt.Hidden, SupportsGrade: elt.Grade}
		if err := meddler.Insert(db, "modules", module); err != nil {
			return fmt.Errorf("db error inserting module %s: %w", name, err)
		}
		moduleIDs[name] = module.ID
		for _, capability := range elt.Capability {
			if err := declareCapability(db, capability, ""); err != nil {
				return err
			}
		}
	}

	for _, name := range sortedKeys(fix.Capability) {
		if err := declareCapability(db, name, fix.Capability[name].Description); err != nil {
			return err
		}
	}

	for _, shortname := range sortedKeys(fix.Course) {
		elt := fix.Course[shortname]
		fullname := elt.FullName
		if fullname == "" {
			fullname = shortname
		}
		course := &Course{ShortName: shortname, FullName: fullname, IDNumber: elt.IDNumber, CreatedAt: now}
		if err := meddler.Insert(db, "courses", course); err != nil {
			return fmt.Errorf("db error inserting course %s: %w", shortname, err)
		}
		courseIDs[shortname] = course.ID
	}

	for _, username := range sortedKeys(fix.User) {
		elt := fix.User[username]
		user := &User{
			Username:  username,
			Email:     elt.Email,
			FirstName: elt.FirstName,
			LastName:  elt.LastName,
			Admin:     elt.Admin,
			Deleted:   elt.Deleted,
			CreatedAt: now,
		}
		if err := meddler.Insert(db, "users", user); err != nil {
			return fmt.Errorf("db error inserting user %s: %w", username, err)
		}
		userIDs[username] = user.ID
		for _, shortname := range elt.Enrol {
			courseID, ok := resolve(courseIDs, "courses", "shortname", shortname)
			if !ok {
				return fmt.Errorf("user %s: unknown course %q", username, shortname)
			}
			enrolment := &Enrolment{CourseID: courseID, UserID: user.ID, CreatedAt: now}
			if err := meddler.Insert(db, "enrolments", enrolment); err != nil {
				return fmt.Errorf("db error enrolling %s in %s: %w", username, shortname, err)
			}
		}
	}

	for _, idnumber := range sortedKeys(fix.Activity) {
		elt := fix.Activity[idnumber]
		moduleID, ok := resolve(moduleIDs, "modules", "name", elt.Type)
		if !ok {
			return fmt.Errorf("activity %s: unknown type %q", idnumber, elt.Type)
		}
		courseID, ok := resolve(courseIDs, "courses", "shortname", elt.Course)
		if !ok {
			return fmt.Errorf("activity %s: unknown course %q", idnumber, elt.Course)
		}
		name := elt.Name
		if name == "" {
			name = idnumber
		}
		activity := &Activity{CourseID: courseID, Name: name, Grade: elt.Grade, CreatedAt: now}
		if err := meddler.Insert(db, elt.Type, activity); err != nil {
			return fmt.Errorf("db error inserting activity %s: %w", idnumber, err)
		}
		cm := &CourseModule{
			CourseID: courseID,
			ModuleID: moduleID,
			Instance: activity.ID,
			IDNumber: idnumber,
			Visible:  !elt.Hidden,
			AddedAt:  now,
		}
		if err := meddler.Insert(db, "course_modules", cm); err != nil {
			return fmt.Errorf("db error inserting course module %s: %w", idnumber, err)
		}
		cmIDs[idnumber] = cm.ID
	}

	for _, label := range sortedKeys(fix.Grant) {
		elt := fix.Grant[label]
		userID, ok := resolve(userIDs, "users", "username", elt.User)
		if !ok {
			return fmt.Errorf("grant %s: unknown user %q", label, elt.User)
		}
		assignment := &RoleAssignment{UserID: userID, Capability: elt.Capability}
		switch strings.ToLower(elt.Context) {
		case "", "system":
			assignment.ContextLevel = ContextSystem
		case "course":
			assignment.ContextLevel = ContextCourse
			if assignment.InstanceID, ok = resolve(courseIDs, "courses", "shortname", elt.Instance); !ok {
				return fmt.Errorf("grant %s: unknown course %q", label, elt.Instance)
			}
		case "module":
			assignment.ContextLevel = ContextModule
			if assignment.InstanceID, ok = resolve(cmIDs, "course_modules", "idnumber", elt.Instance); !ok {
				return fmt.Errorf("grant %s: unknown activity %q", label, elt.Instance)
			}
		default:
			return fmt.Errorf("grant %s: unknown context %q", label, elt.Context)
		}
		if err := meddler.Insert(db, "role_assignments", assignment); err != nil {
			return fmt.Errorf("db error inserting grant %s: %w", label, err)
		}
	}

	for _, label := range sortedKeys(fix.GradeItem) {
		elt := fix.GradeItem[label]
		ref := new(struct {
			Type     string `meddler:"name"`
			Instance int64  `meddler:"instance"`
		})
		err := meddler.QueryRow(db, ref, `SELECT modules.name, course_modules.instance `+
			`FROM course_modules JOIN modules ON course_modules.module = modules.id `+
			`WHERE course_modules.idnumber = ?`, elt.Activity)
		if err != nil {
			return fmt.Errorf("gradeitem %s: activity %q: %w", label, elt.Activity, err)
		}
		activity := new(Activity)
		if err := meddler.Load(db, ref.Type, activity, ref.Instance); err != nil {
			return fmt.Errorf("gradeitem %s: loading %s %d: %w", label, ref.Type, ref.Instance, err)
		}
		item := &GradeItem{
			CourseID:     activity.CourseID,
			ItemType:     itemTypeModule,
			ItemModule:   ref.Type,
			ItemInstance: activity.ID,
			ItemNumber:   elt.Number,
			ItemName:     activity.Name,
			IDNumber:     elt.Activity,
			GradeMax:     100,
			Locked:       elt.Locked,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		switch {
		case activity.Grade > 0:
			item.GradeType, item.GradeMax = grader.GradeTypeValue, activity.Grade
		case activity.Grade < 0:
			item.GradeType, item.GradeMin, item.GradeMax = grader.GradeTypeScale, 1, -activity.Grade
		}
		if err := meddler.Insert(db, "grade_items", item); err != nil {
			return fmt.Errorf("db error inserting grade item %s: %w", label, err)
		}
	}

	for _, token := range sortedKeys(fix.Token) {
		elt := fix.Token[token]
		userID, ok := resolve(userIDs, "users", "username", elt.User)
		if !ok {
			return fmt.Errorf("token for unknown user %q", elt.User)
		}
		service := elt.Service
		if service == "" {
			service = ServiceShortName
		}
		tok := &Token{Token: token, UserID: userID, Service: service, CreatedAt: now}
		if elt.ValidUntil != "" {
			until, err := time.Parse("2006-01-02", elt.ValidUntil)
			if err != nil {
				return fmt.Errorf("token for %s: bad validuntil: %w", elt.User, err)
			}
			tok.ValidUntil = &until
		}
		if err := meddler.Insert(db, "external_tokens", tok); err != nil {
			return fmt.Errorf("db error inserting token for %s: %w", elt.User, err)
		}
	}

	return nil
}

func declareCapability(db meddler.DB, name, description string) error {
	_, err := db.Exec(`INSERT INTO capabilities (name, description) VALUES (?, ?) `+
		`ON CONFLICT (name) DO UPDATE SET description = excluded.description WHERE excluded.description <> ''`,
		name, description)
	if err != nil {
		return fmt.Errorf("declaring capability %s: %w", name, err)
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	var keys []string
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
