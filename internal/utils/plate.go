package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate uppercases the plate and drops everything that is not a letter or digit.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.ToUpper(plate) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
