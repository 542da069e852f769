package grader

import "fmt"

// Outcome is the result code of a grade update, using the host's numbering.
type Outcome int

const (
	Applied       Outcome = 0
	Failed        Outcome = 1
	MultipleItems Outcome = 2
	ItemLocked    Outcome = 4
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	case MultipleItems:
		return "multiple"
	case ItemLocked:
		return "locked"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// StatusOK is returned for every outcome that is not a known soft failure.
const StatusOK = "OK"
