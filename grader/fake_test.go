package grader

import (
	"errors"
	"fmt"
	"strings"
)

type fakeGrant struct {
	userID     int64
	capability string
	ctx        Context
}

type fakeWrite struct {
	item  GradeItemSpec
	grade GradePayload
}

// fakeHost is an in-memory host with one course, used by the handler tests.
type fakeHost struct {
	modules    map[string]*Module // by external key
	activities map[string]*ActivityRecord
	gradable   map[string]bool
	declared   map[string]bool
	grants     []fakeGrant
	users      []*UserRef
	outcome    Outcome
	updateErr  error
	writes     []fakeWrite
	calls      []string
}

func newFakeHost() *fakeHost {
	h := &fakeHost{
		modules:    make(map[string]*Module),
		activities: make(map[string]*ActivityRecord),
		gradable:   map[string]bool{"quiz": true, "assign": true, "practical": true, "forum": false},
		declared:   map[string]bool{"mod/quiz:grade": true, "mod/assign:grade": true},
	}
	h.addActivity("quiz07", &Module{ID: 11, CourseID: 2, Type: "quiz", Instance: 7}, 100)
	h.addActivity("lab-3", &Module{ID: 12, CourseID: 2, Type: "practical", Instance: 3}, 20)
	h.addActivity("chat_1", &Module{ID: 13, CourseID: 2, Type: "forum", Instance: 1}, 0)
	h.users = []*UserRef{
		{ID: 40, Username: "stu", Email: "stu@example.org"},
		{ID: 41, Username: "stuart", Email: "stuart@example.org"},
		{ID: 42, Username: "pat", Email: "pat@example.org"},
	}
	return h
}

func (h *fakeHost) addActivity(key string, module *Module, grade float64) {
	h.modules[key] = module
	h.activities[fmt.Sprintf("%s/%d", module.Type, module.Instance)] = &ActivityRecord{
		ID:       module.Instance,
		CourseID: module.CourseID,
		Name:     "Activity " + key,
		Grade:    grade,
	}
}

func (h *fakeHost) grant(userID int64, capability string, ctx Context) {
	h.grants = append(h.grants, fakeGrant{userID: userID, capability: capability, ctx: ctx})
}

func (h *fakeHost) FindModuleByExternalKey(key string) (*ModuleRef, error) {
	h.calls = append(h.calls, "FindModuleByExternalKey")
	module, ok := h.modules[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &ModuleRef{ID: module.ID, IDNumber: key}, nil
}

func (h *fakeHost) ResolveCourseAndModule(moduleID int64) (*Course, *Module, error) {
	for _, module := range h.modules {
		if module.ID == moduleID {
			copied := *module
			return &Course{ID: module.CourseID, ShortName: "CS101"}, &copied, nil
		}
	}
	return nil, nil, errors.New("no such course module")
}

func (h *fakeHost) TypeSupportsGrading(moduleType string) (bool, error) {
	return h.gradable[moduleType], nil
}

func (h *fakeHost) CapabilityDeclared(name string) (bool, error) {
	return h.declared[name], nil
}

func (h *fakeHost) HasCapability(userID int64, name string, ctx Context) (bool, error) {
	for _, g := range h.grants {
		if g.userID == userID && g.capability == name && g.ctx == ctx {
			return true, nil
		}
	}
	return false, nil
}

func (h *fakeHost) LoadActivityRecord(moduleType string, instance int64) (*ActivityRecord, error) {
	activity, ok := h.activities[fmt.Sprintf("%s/%d", moduleType, instance)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *activity
	return &copied, nil
}

func (h *fakeHost) SearchUsersByEmail(courseID int64, email string) ([]*UserRef, error) {
	var found []*UserRef
	for _, user := range h.users {
		if strings.Contains(strings.ToLower(user.Email), strings.ToLower(email)) {
			found = append(found, user)
		}
	}
	return found, nil
}

func (h *fakeHost) GradeUpdate(item *GradeItemSpec, grade *GradePayload) (Outcome, error) {
	if h.updateErr != nil {
		return Failed, h.updateErr
	}
	h.writes = append(h.writes, fakeWrite{item: *item, grade: *grade})
	return h.outcome, nil
}
