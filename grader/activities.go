package grader

import "math"

// DefaultRegistry returns a registry with the routines for every activity
// type the host ships with.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("assign", GradeUpdaterFunc(assignGradeItemUpdate))
	r.Register("practical", GradeUpdaterFunc(assignGradeItemUpdate))
	r.Register("quiz", GradeUpdaterFunc(pointsGradeItemUpdate))
	r.Register("lesson", GradeUpdaterFunc(pointsGradeItemUpdate))
	r.Register("workshop", GradeUpdaterFunc(workshopGradeItemUpdate))
	return r
}

func baseItem(activity *ActivityRecord) *GradeItemSpec {
	return &GradeItemSpec{
		CourseID:     activity.CourseID,
		ItemModule:   activity.Type,
		ItemInstance: activity.ID,
		ItemName:     activity.Name,
		IDNumber:     activity.CMIDNumber,
	}
}

// assign-style activities: a positive grade is a points maximum,
// a negative grade names a scale, zero means the activity is not graded
func assignGradeItemUpdate(gb Gradebook, activity *ActivityRecord, grade *GradePayload) (Outcome, error) {
	item := baseItem(activity)
	switch {
	case activity.Grade > 0:
		item.GradeType = GradeTypeValue
		item.GradeMax = activity.Grade
	case activity.Grade < 0:
		// scales are graded by position, 1..n
		item.GradeType = GradeTypeScale
		item.GradeMin = 1
		item.GradeMax = math.Abs(activity.Grade)
	default:
		item.GradeType = GradeTypeNone
	}
	return gb.GradeUpdate(item, grade)
}

// quizzes and lessons only ever have a points maximum
func pointsGradeItemUpdate(gb Gradebook, activity *ActivityRecord, grade *GradePayload) (Outcome, error) {
	item := baseItem(activity)
	if activity.Grade > 0 {
		item.GradeType = GradeTypeValue
		item.GradeMax = activity.Grade
	} else {
		item.GradeType = GradeTypeNone
	}
	return gb.GradeUpdate(item, grade)
}

// workshops have two grade items: 0 is the submission grade, 1 the
// assessment grade. Only the submission grade is set from outside.
func workshopGradeItemUpdate(gb Gradebook, activity *ActivityRecord, grade *GradePayload) (Outcome, error) {
	item := baseItem(activity)
	item.ItemNumber = 0
	item.ItemName = activity.Name + " (submission)"
	if activity.Grade > 0 {
		item.GradeType = GradeTypeValue
		item.GradeMax = activity.Grade
	} else {
		item.GradeType = GradeTypeNone
	}
	return gb.GradeUpdate(item, grade)
}
