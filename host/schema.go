package host

import (
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

// ActivityTypes are the activity tables every site starts with.
var ActivityTypes = []string{"assign", "lesson", "practical", "quiz", "workshop"}

// capabilities every site declares regardless of installed activity types
var coreCapabilities = []string{
	"moodle/course:markcomplete",
	"local/practicalgrader:grade",
}

var tableName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

const schema = `
CREATE TABLE IF NOT EXISTS courses (
	id INTEGER PRIMARY KEY,
	shortname TEXT NOT NULL UNIQUE,
	fullname TEXT NOT NULL,
	idnumber TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS modules (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	visible BOOLEAN NOT NULL DEFAULT 1,
	supports_grade BOOLEAN NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS course_modules (
	id INTEGER PRIMARY KEY,
	course INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	module INTEGER NOT NULL REFERENCES modules(id),
	instance INTEGER NOT NULL,
	idnumber TEXT NOT NULL DEFAULT '',
	visible BOOLEAN NOT NULL DEFAULT 1,
	added_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS course_modules_idnumber ON course_modules (idnumber) WHERE idnumber <> '';
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL,
	firstname TEXT NOT NULL DEFAULT '',
	lastname TEXT NOT NULL DEFAULT '',
	admin BOOLEAN NOT NULL DEFAULT 0,
	deleted BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS enrolments (
	id INTEGER PRIMARY KEY,
	course_id INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL,
	UNIQUE (course_id, user_id)
);
CREATE TABLE IF NOT EXISTS capabilities (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS role_assignments (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	capability TEXT NOT NULL,
	context_level INTEGER NOT NULL,
	instance_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS grade_items (
	id INTEGER PRIMARY KEY,
	course_id INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
	item_type TEXT NOT NULL,
	item_module TEXT NOT NULL,
	item_instance INTEGER NOT NULL,
	item_number INTEGER NOT NULL DEFAULT 0,
	item_name TEXT NOT NULL DEFAULT '',
	idnumber TEXT NOT NULL DEFAULT '',
	grade_type INTEGER NOT NULL,
	grade_max REAL NOT NULL DEFAULT 100,
	grade_min REAL NOT NULL DEFAULT 0,
	locked BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS grade_grades (
	id INTEGER PRIMARY KEY,
	item_id INTEGER NOT NULL REFERENCES grade_items(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	raw_grade REAL NOT NULL,
	final_grade REAL NOT NULL,
	user_modified INTEGER NOT NULL,
	date_submitted DATETIME,
	date_graded DATETIME NOT NULL,
	locked BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (item_id, user_id)
);
CREATE TABLE IF NOT EXISTS external_tokens (
	id INTEGER PRIMARY KEY,
	token TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	service TEXT NOT NULL,
	valid_until DATETIME,
	created_at DATETIME NOT NULL,
	last_access DATETIME
);
`

// Open opens (creating if needed) the sqlite database at path.
func Open(path string) (*sql.DB, error) {
	meddler.Default = meddler.SQLite

	options :=
		"?" + "mode=rwc" +
			"&" + "_busy_timeout=10000" +
			"&" + "_cache_size=-20000" +
			"&" + "_foreign_keys=ON" +
			"&" + "_journal_mode=WAL" +
			"&" + "_synchronous=NORMAL" +
			"&" + "_temp_store=MEMORY"
	db, err := sql.Open("sqlite3", path+options)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// CreateSchema creates any missing tables, including one table per
// standard activity type, and declares the core capabilities.
func CreateSchema(db meddler.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	for _, name := range ActivityTypes {
		if err := createActivityTable(db, name); err != nil {
			return err
		}
	}
	for _, name := range coreCapabilities {
		if err := declareCapability(db, name, ""); err != nil {
			return err
		}
	}
	return nil
}

func createActivityTable(db meddler.DB, moduleType string) error {
	if !tableName.MatchString(moduleType) {
		return fmt.Errorf("illegal activity type name %q", moduleType)
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + moduleType + ` (
		id INTEGER PRIMARY KEY,
		course INTEGER NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		grade REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating table for %s: %w", moduleType, err)
	}
	return nil
}
