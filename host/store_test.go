package host

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/russross/practicalgrader/grader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "site.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, CreateSchema(db))
	require.NoError(t, LoadFixture(db, filepath.Join("testdata", "site.cfg")))
	return db
}

func cmID(t *testing.T, db *sql.DB, key string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.QueryRow(`SELECT id FROM course_modules WHERE idnumber = ?`, key).Scan(&id))
	return id
}

func userID(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id))
	return id
}

func courseID(t *testing.T, db *sql.DB, shortname string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.QueryRow(`SELECT id FROM courses WHERE shortname = ?`, shortname).Scan(&id))
	return id
}

func TestFindModuleByExternalKey(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)

	ref, err := store.FindModuleByExternalKey("quiz07")
	require.NoError(t, err)
	assert.Equal(t, cmID(t, db, "quiz07"), ref.ID)
	assert.Equal(t, "quiz07", ref.IDNumber)

	_, err = store.FindModuleByExternalKey("quiz99")
	assert.ErrorIs(t, err, grader.ErrNotFound)

	// external keys are unique when set
	_, err = db.Exec(`INSERT INTO course_modules (course, module, instance, idnumber, added_at) `+
		`SELECT course, module, instance, idnumber, added_at FROM course_modules WHERE idnumber = 'quiz07'`)
	require.Error(t, err)
	_, err = store.FindModuleByExternalKey("quiz07")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = db.Exec(`INSERT INTO course_modules (course, module, instance, idnumber, added_at) `+
			`SELECT course, module, instance, '', added_at FROM course_modules WHERE idnumber = 'quiz07'`)
		require.NoError(t, err, "blank keys may repeat")
	}
}

func TestResolveCourseAndModule(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)

	course, module, err := store.ResolveCourseAndModule(cmID(t, db, "essay-2"))
	require.NoError(t, err)
	assert.Equal(t, "CS101", course.ShortName)
	assert.Equal(t, courseID(t, db, "CS101"), course.ID)
	assert.Equal(t, "assign", module.Type)
	assert.Equal(t, course.ID, module.CourseID)

	record, err := store.LoadActivityRecord(module.Type, module.Instance)
	require.NoError(t, err)
	assert.Equal(t, "Essay 2", record.Name)
	assert.Equal(t, -5.0, record.Grade)

	_, _, err = store.ResolveCourseAndModule(9999)
	assert.ErrorIs(t, err, grader.ErrNotFound)
}

func TestLoadActivityRecord_RejectsBadTypeNames(t *testing.T) {
	store := New(openTestDB(t), nil)

	_, err := store.LoadActivityRecord("quiz; DROP TABLE users", 1)
	require.Error(t, err)

	_, err = store.LoadActivityRecord("quiz", 9999)
	assert.ErrorIs(t, err, grader.ErrNotFound)
}

func TestTypeSupportsGrading(t *testing.T) {
	store := New(openTestDB(t), nil)

	for moduleType, want := range map[string]bool{
		"quiz":      true,
		"practical": true,
		"forum":     false,
		"wiki":      false,
	} {
		got, err := store.TypeSupportsGrading(moduleType)
		require.NoError(t, err)
		assert.Equal(t, want, got, moduleType)
	}
}

func TestCapabilityDeclared(t *testing.T) {
	store := New(openTestDB(t), nil)

	for name, want := range map[string]bool{
		"mod/quiz:grade":              true,
		"mod/practical:grade":         false,
		"moodle/course:markcomplete":  true,
		"local/practicalgrader:grade": true,
	} {
		got, err := store.CapabilityDeclared(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestHasCapability(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	teacher := userID(t, db, "teacher")
	course := courseID(t, db, "CS101")

	tests := []struct {
		name       string
		user       int64
		capability string
		ctx        grader.Context
		want       bool
	}{
		{"granted in module", teacher, "mod/quiz:grade", grader.ModuleContext(cmID(t, db, "quiz07")), true},
		{"not granted in sibling module", teacher, "mod/quiz:grade", grader.ModuleContext(cmID(t, db, "essay-2")), false},
		{"course grant applies to module", teacher, "moodle/course:markcomplete", grader.ModuleContext(cmID(t, db, "lab-3")), true},
		{"course grant in course", teacher, "moodle/course:markcomplete", grader.CourseContext(course), true},
		{"system grant applies to module", teacher, "local/practicalgrader:grade", grader.ModuleContext(cmID(t, db, "quiz07")), true},
		{"module grant does not reach course", teacher, "mod/quiz:grade", grader.CourseContext(course), false},
		{"student holds nothing", userID(t, db, "stu"), "mod/quiz:grade", grader.ModuleContext(cmID(t, db, "quiz07")), false},
		{"admin holds everything", userID(t, db, "root"), "mod/quiz:grade", grader.ModuleContext(cmID(t, db, "quiz07")), true},
		{"unknown user", 9999, "mod/quiz:grade", grader.SystemContext(), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.HasCapability(tc.user, tc.capability, tc.ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHasCapability_DeletedUserHoldsNothing(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	gone := userID(t, db, "gone")

	_, err := db.Exec(`INSERT INTO role_assignments (user_id, capability, context_level, instance_id) VALUES (?, ?, ?, 0)`,
		gone, "local/practicalgrader:grade", int(grader.ContextSystem))
	require.NoError(t, err)

	got, err := store.HasCapability(gone, "local/practicalgrader:grade", grader.SystemContext())
	require.NoError(t, err)
	assert.False(t, got)
}

func TestSearchUsersByEmail(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	course := courseID(t, db, "CS101")

	emails := func(refs []*grader.UserRef) []string {
		var list []string
		for _, ref := range refs {
			list = append(list, ref.Email)
		}
		return list
	}

	refs, err := store.SearchUsersByEmail(course, "stu@example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"stu@example.org"}, emails(refs))

	refs, err = store.SearchUsersByEmail(course, "STU")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stu@example.org", "Stuart@Example.org"}, emails(refs))

	refs, err = store.SearchUsersByEmail(course, "outsider@example.org")
	require.NoError(t, err)
	assert.Empty(t, refs, "not enrolled")

	refs, err = store.SearchUsersByEmail(course, "gone@example.org")
	require.NoError(t, err)
	assert.Empty(t, refs, "deleted")

	refs, err = store.SearchUsersByEmail(course, "%")
	require.NoError(t, err)
	assert.Empty(t, refs, "wildcards are literal")

	refs, err = store.SearchUsersByEmail(course, "Stuart@Example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"Stuart@Example.org"}, emails(refs), "exact mixed-case stored email")

	require.NoError(t, LoadFixtureString(db, `
[user "jose"]
email = JOSÉ@example.org
enrol = CS101
`))
	refs, err = store.SearchUsersByEmail(course, "JOSÉ@example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"JOSÉ@example.org"}, emails(refs), "non-ascii stored email matches itself")
}

func TestLookupToken(t *testing.T) {
	db := openTestDB(t)
	store := New(db, nil)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	user, tok, err := store.LookupToken("teacher-token", now)
	require.NoError(t, err)
	assert.Equal(t, "teacher", user.Username)
	assert.Equal(t, "Practical_Grades", tok.Service)

	var lastAccess time.Time
	require.NoError(t, db.QueryRow(`SELECT last_access FROM external_tokens WHERE token = ?`, "teacher-token").Scan(&lastAccess))
	assert.True(t, now.Equal(lastAccess))

	_, tok, err = store.LookupToken("teacher-other", now)
	require.NoError(t, err)
	assert.Equal(t, "moodle_mobile_app", tok.Service)

	for _, token := range []string{"", "no-such-token", "teacher-expired", "gone-token"} {
		_, _, err := store.LookupToken(token, now)
		assert.ErrorIs(t, err, grader.ErrNotFound, token)
	}
}
