package db

import "strings"

// IsUniqueViolation reports whether err looks like a unique-constraint
// failure. With a constraint name it matches that specific constraint;
// without one it matches the generic postgres and sqlite messages.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName) &&
			(strings.Contains(msg, "duplicate key value") ||
				strings.Contains(msg, "UNIQUE constraint failed"))
	}
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
