package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isUniqueViolation reports a duplicate key. gorm only translates driver
// errors when TranslateError is enabled, so the driver message is checked too.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
