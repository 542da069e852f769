package grader

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var (
	alphanumExt = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	domainLabel = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?$`)
)

// ValidateActivityKey accepts letters, digits, underscore and hyphen.
func ValidateActivityKey(key string) error {
	if key == "" {
		return newError(ErrInvalidParameter, "invalidparameter", "activityidnumber is required")
	}
	if !alphanumExt.MatchString(key) {
		return newError(ErrInvalidParameter, "invalidparameter", fmt.Sprintf("activityidnumber %q", key))
	}
	return nil
}

// ValidateEmail accepts a bare ASCII addr-spec (no display name, no angle
// brackets) whose domain is at least two well-formed host labels.
func ValidateEmail(email string) error {
	if email == "" {
		return newError(ErrInvalidParameter, "invalidparameter", "studentemail is required")
	}
	bad := newError(ErrInvalidParameter, "invalidparameter", fmt.Sprintf("studentemail %q", email))
	for i := 0; i < len(email); i++ {
		if email[i] < 0x21 || email[i] > 0x7e {
			return bad
		}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return bad
	}
	labels := strings.Split(email[strings.LastIndex(email, "@")+1:], ".")
	if len(labels) < 2 {
		return bad
	}
	for _, label := range labels {
		if !domainLabel.MatchString(label) {
			return bad
		}
	}
	return nil
}
