package grader

import (
	"fmt"
	"sort"
)

// GradeUpdatable is implemented by each activity type's grade-update routine.
// It turns the activity record into a grade item definition and hands the
// grade to the gradebook, reporting only the outcome.
type GradeUpdatable interface {
	UpdateGrade(gb Gradebook, activity *ActivityRecord, grade *GradePayload) (Outcome, error)
}

// GradeUpdaterFunc adapts an ordinary function to GradeUpdatable.
type GradeUpdaterFunc func(gb Gradebook, activity *ActivityRecord, grade *GradePayload) (Outcome, error)

func (f GradeUpdaterFunc) UpdateGrade(gb Gradebook, activity *ActivityRecord, grade *GradePayload) (Outcome, error) {
	return f(gb, activity, grade)
}

// Registry maps activity type names to their grade-update routines.
// It is filled in at startup and only read while serving calls.
type Registry struct {
	updaters map[string]GradeUpdatable
}

func NewRegistry() *Registry {
	return &Registry{updaters: make(map[string]GradeUpdatable)}
}

// Register adds the routine for one activity type.
// It panics if the name is empty or already registered.
func (r *Registry) Register(moduleType string, updater GradeUpdatable) {
	if moduleType == "" {
		panic("grader: Register with empty activity type")
	}
	if updater == nil {
		panic(fmt.Sprintf("grader: Register %s with nil updater", moduleType))
	}
	if _, exists := r.updaters[moduleType]; exists {
		panic(fmt.Sprintf("grader: Register called twice for activity type %s", moduleType))
	}
	r.updaters[moduleType] = updater
}

func (r *Registry) Lookup(moduleType string) (GradeUpdatable, bool) {
	updater, ok := r.updaters[moduleType]
	return updater, ok
}

// Types returns the registered activity types in sorted order.
func (r *Registry) Types() []string {
	var names []string
	for name := range r.updaters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
