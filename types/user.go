package types

import (
	"time"
)

const (
	CookieName = "practicalgrader"

	// context levels used by role assignments
	ContextSystem = 10
	ContextCourse = 50
	ContextModule = 70
)

// Course represents a single course in the host platform.
type Course struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	ShortName string    `json:"shortname" meddler:"shortname"`
	FullName  string    `json:"fullname" meddler:"fullname"`
	IDNumber  string    `json:"idnumber" meddler:"idnumber"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
}

// Module is an activity type installed in the host, e.g. assign or quiz.
type Module struct {
	ID            int64  `json:"id" meddler:"id,pk"`
	Name          string `json:"name" meddler:"name"`
	Visible       bool   `json:"visible" meddler:"visible"`
	SupportsGrade bool   `json:"supportsGrade" meddler:"supports_grade"`
}

// CourseModule links one activity instance to a course and carries the
// external key (idnumber) used by remote callers.
type CourseModule struct {
	ID       int64     `json:"id" meddler:"id,pk"`
	CourseID int64     `json:"course" meddler:"course"`
	ModuleID int64     `json:"module" meddler:"module"`
	Instance int64     `json:"instance" meddler:"instance"`
	IDNumber string    `json:"idnumber" meddler:"idnumber"`
	Visible  bool      `json:"visible" meddler:"visible"`
	AddedAt  time.Time `json:"addedAt" meddler:"added_at,localtime"`
}

// Activity is a row from one of the per-type activity tables.
// All activity types share this layout.
type Activity struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	CourseID  int64     `json:"course" meddler:"course"`
	Name      string    `json:"name" meddler:"name"`
	Grade     float64   `json:"grade" meddler:"grade"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
}

// User represents a single user account in the host.
type User struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	Username  string    `json:"username" meddler:"username"`
	Email     string    `json:"email" meddler:"email"`
	FirstName string    `json:"firstname" meddler:"firstname"`
	LastName  string    `json:"lastname" meddler:"lastname"`
	Admin     bool      `json:"admin" meddler:"admin"`
	Deleted   bool      `json:"-" meddler:"deleted"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
}

type Enrolment struct {
	ID        int64     `json:"id" meddler:"id,pk"`
	CourseID  int64     `json:"courseID" meddler:"course_id"`
	UserID    int64     `json:"userID" meddler:"user_id"`
	CreatedAt time.Time `json:"createdAt" meddler:"created_at,localtime"`
}

// RoleAssignment grants one capability to one user in one context.
type RoleAssignment struct {
	ID           int64  `json:"id" meddler:"id,pk"`
	UserID       int64  `json:"userID" meddler:"user_id"`
	Capability   string `json:"capability" meddler:"capability"`
	ContextLevel int    `json:"contextLevel" meddler:"context_level"`
	InstanceID   int64  `json:"instanceID" meddler:"instance_id"`
}

// GradeItem is the gradebook slot for one activity.
type GradeItem struct {
	ID           int64     `json:"id" meddler:"id,pk"`
	CourseID     int64     `json:"courseID" meddler:"course_id"`
	ItemType     string    `json:"itemType" meddler:"item_type"`
	ItemModule   string    `json:"itemModule" meddler:"item_module"`
	ItemInstance int64     `json:"itemInstance" meddler:"item_instance"`
	ItemNumber   int64     `json:"itemNumber" meddler:"item_number"`
	ItemName     string    `json:"itemName" meddler:"item_name"`
	IDNumber     string    `json:"idnumber" meddler:"idnumber"`
	GradeType    int       `json:"gradeType" meddler:"grade_type"`
	GradeMax     float64   `json:"gradeMax" meddler:"grade_max"`
	GradeMin     float64   `json:"gradeMin" meddler:"grade_min"`
	Locked       bool      `json:"locked" meddler:"locked"`
	CreatedAt    time.Time `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt    time.Time `json:"updatedAt" meddler:"updated_at,localtime"`
}

// GradeGrade is one user's grade in one grade item.
type GradeGrade struct {
	ID            int64      `json:"id" meddler:"id,pk"`
	ItemID        int64      `json:"itemID" meddler:"item_id"`
	UserID        int64      `json:"userID" meddler:"user_id"`
	RawGrade      float64    `json:"rawGrade" meddler:"raw_grade"`
	FinalGrade    float64    `json:"finalGrade" meddler:"final_grade"`
	UserModified  int64      `json:"userModified" meddler:"user_modified"`
	DateSubmitted *time.Time `json:"dateSubmitted" meddler:"date_submitted,localtime"`
	DateGraded    time.Time  `json:"dateGraded" meddler:"date_graded,localtime"`
	Locked        bool       `json:"locked" meddler:"locked"`
	CreatedAt     time.Time  `json:"createdAt" meddler:"created_at,localtime"`
	UpdatedAt     time.Time  `json:"updatedAt" meddler:"updated_at,localtime"`
}

// Token is a web service token bound to one user and one service.
type Token struct {
	ID         int64      `json:"id" meddler:"id,pk"`
	Token      string     `json:"-" meddler:"token"`
	UserID     int64      `json:"userID" meddler:"user_id"`
	Service    string     `json:"service" meddler:"service"`
	ValidUntil *time.Time `json:"validUntil" meddler:"valid_until,localtime"`
	CreatedAt  time.Time  `json:"createdAt" meddler:"created_at,localtime"`
	LastAccess *time.Time `json:"lastAccess" meddler:"last_access,localtime"`
}
