package util

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Recipients are E.164 numbers, with or without the leading plus.
var recipientRegex = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// IsValidUUID accepts only the canonical lowercase hyphenated form that
// session ids are issued in.
func IsValidUUID(s string) bool {
	if len(s) != 36 || s != strings.ToLower(s) {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func IsValidRecipient(s string) bool {
	return recipientRegex.MatchString(s)
}

// IsValidEnum reports whether value is one of validValues. The empty string
// passes so optional fields can be left unset.
func IsValidEnum(value string, validValues []string) bool {
	if value == "" {
		return true
	}
	for _, v := range validValues {
		if value == v {
			return true
		}
	}
	return false
}
