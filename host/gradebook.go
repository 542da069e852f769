package host

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/russross/meddler"
	"github.com/russross/practicalgrader/grader"
	. "github.com/russross/practicalgrader/types"
)

// activity grade items are always of this type
const itemTypeModule = "mod"

// GradeUpdate stores one user's grade in the grade item described by spec,
// creating the item on first use. Problems with the item or the grade are
// reported as outcomes; only database failures are errors.
func (s *Store) GradeUpdate(spec *grader.GradeItemSpec, grade *grader.GradePayload) (grader.Outcome, error) {
	items := []*GradeItem{}
	err := meddler.QueryAll(s.db, &items, `SELECT * FROM grade_items `+
		`WHERE course_id = ? AND item_type = ? AND item_module = ? AND item_instance = ? AND item_number = ?`,
		spec.CourseID, itemTypeModule, spec.ItemModule, spec.ItemInstance, spec.ItemNumber)
	if err != nil {
		return grader.Failed, fmt.Errorf("db error loading grade items: %w", err)
	}
	if len(items) > 1 {
		s.trace.Printf("%d grade items found for %s %d number %d", len(items), spec.ItemModule, spec.ItemInstance, spec.ItemNumber)
		return grader.MultipleItems, nil
	}

	now := grade.DateGraded
	var item *GradeItem
	if len(items) == 0 {
		if spec.GradeType == grader.GradeTypeNone {
			s.trace.Printf("no grade item for ungraded %s %d", spec.ItemModule, spec.ItemInstance)
			return grader.Failed, nil
		}
		item = &GradeItem{
			CourseID:     spec.CourseID,
			ItemType:     itemTypeModule,
			ItemModule:   spec.ItemModule,
			ItemInstance: spec.ItemInstance,
			ItemNumber:   spec.ItemNumber,
			ItemName:     spec.ItemName,
			IDNumber:     spec.IDNumber,
			GradeType:    spec.GradeType,
			GradeMax:     spec.GradeMax,
			GradeMin:     spec.GradeMin,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := meddler.Insert(s.db, "grade_items", item); err != nil {
			return grader.Failed, fmt.Errorf("db error creating grade item: %w", err)
		}
		s.trace.Printf("created grade item %d for %s %d (%q)", item.ID, item.ItemModule, item.ItemInstance, item.ItemName)
	} else {
		item = items[0]
		if item.Locked {
			s.trace.Printf("grade item %d is locked", item.ID)
			return grader.ItemLocked, nil
		}
		if refreshItem(item, spec) {
			item.UpdatedAt = now
			if err := meddler.Save(s.db, "grade_items", item); err != nil {
				return grader.Failed, fmt.Errorf("db error updating grade item %d: %w", item.ID, err)
			}
			s.trace.Printf("updated grade item %d details", item.ID)
		}
	}

	if item.GradeType == grader.GradeTypeNone {
		s.trace.Printf("grade item %d does not accept grades", item.ID)
		return grader.Failed, nil
	}

	raw, err := strconv.ParseFloat(strings.TrimSpace(grade.RawGrade), 64)
	if err != nil || math.IsNaN(raw) || math.IsInf(raw, 0) {
		s.trace.Printf("rejecting grade %q for user %d: not a number", grade.RawGrade, grade.UserID)
		return grader.Failed, nil
	}
	final := finalGrade(item, raw)

	existing := new(GradeGrade)
	err = meddler.QueryRow(s.db, existing, `SELECT * FROM grade_grades WHERE item_id = ? AND user_id = ?`, item.ID, grade.UserID)
	switch {
	case err == sql.ErrNoRows:
		gg := &GradeGrade{
			ItemID:        item.ID,
			UserID:        grade.UserID,
			RawGrade:      raw,
			FinalGrade:    final,
			UserModified:  grade.UserModified,
			DateSubmitted: grade.DateSubmitted,
			DateGraded:    now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := meddler.Insert(s.db, "grade_grades", gg); err != nil {
			return grader.Failed, fmt.Errorf("db error inserting grade: %w", err)
		}
		s.trace.Printf("inserted grade %v for user %d in item %d", final, grade.UserID, item.ID)

	case err != nil:
		return grader.Failed, fmt.Errorf("db error loading grade: %w", err)

	case existing.Locked:
		s.trace.Printf("grade for user %d in item %d is locked", grade.UserID, item.ID)
		return grader.ItemLocked, nil

	default:
		existing.RawGrade = raw
		existing.FinalGrade = final
		existing.UserModified = grade.UserModified
		if grade.DateSubmitted != nil {
			existing.DateSubmitted = grade.DateSubmitted
		}
		existing.DateGraded = now
		existing.UpdatedAt = now
		if err := meddler.Save(s.db, "grade_grades", existing); err != nil {
			return grader.Failed, fmt.Errorf("db error updating grade %d: %w", existing.ID, err)
		}
		s.trace.Printf("updated grade %v for user %d in item %d", final, grade.UserID, item.ID)
	}

	return grader.Applied, nil
}

// refreshItem copies the descriptive fields of spec into item and reports
// whether anything changed.
func refreshItem(item *GradeItem, spec *grader.GradeItemSpec) bool {
	changed := false
	if item.ItemName != spec.ItemName {
		item.ItemName, changed = spec.ItemName, true
	}
	if item.IDNumber != spec.IDNumber {
		item.IDNumber, changed = spec.IDNumber, true
	}
	if item.GradeType != spec.GradeType {
		item.GradeType, changed = spec.GradeType, true
	}
	if item.GradeMax != spec.GradeMax {
		item.GradeMax, changed = spec.GradeMax, true
	}
	if item.GradeMin != spec.GradeMin {
		item.GradeMin, changed = spec.GradeMin, true
	}
	return changed
}

// finalGrade clamps raw to the item's range. Scale grades are whole numbers.
func finalGrade(item *GradeItem, raw float64) float64 {
	final := math.Max(item.GradeMin, math.Min(item.GradeMax, raw))
	if item.GradeType == grader.GradeTypeScale {
		final = math.Round(final)
	}
	return final
}

// LookupToken finds the user behind a web service token. Expired tokens and
// tokens of deleted users are treated as missing.
func (s *Store) LookupToken(token string, now time.Time) (*User, *Token, error) {
	if token == "" {
		return nil, nil, grader.ErrNotFound
	}
	tok := new(Token)
	if err := meddler.QueryRow(s.db, tok, `SELECT * FROM external_tokens WHERE token = ?`, token); err != nil {
		return nil, nil, notFound(err, "token")
	}
	if tok.ValidUntil != nil && !tok.ValidUntil.After(now) {
		return nil, nil, fmt.Errorf("token expired at %v: %w", tok.ValidUntil.Format(time.RFC3339), grader.ErrNotFound)
	}
	user, err := s.User(tok.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.Deleted {
		return nil, nil, fmt.Errorf("token owner %s is deleted: %w", user.Username, grader.ErrNotFound)
	}

	tok.LastAccess = &now
	if err := meddler.Update(s.db, "external_tokens", tok); err != nil {
		return nil, nil, fmt.Errorf("db error stamping token: %w", err)
	}
	return user, tok, nil
}
