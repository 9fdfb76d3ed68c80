// Package security validates free text coming from API clients and scrubs
// credentials out of strings before they reach the logs.
package security

import (
	"unicode"
	"unicode/utf8"

	apperrors "github.com/vitanips/vitanips-core/internal/errors"
)

// TextValidator checks free-text fields such as diagnoses, notes and
// booking reasons
type TextValidator struct {
	MaxLen        int
	MaxRepetition int
}

func NewTextValidator() *TextValidator {
	return &TextValidator{
		MaxLen:        4096,
		MaxRepetition: 64,
	}
}

// Check validates one field. Empty values pass.
func (v *TextValidator) Check(field, value string) error {
	if value == "" {
		return nil
	}
	if len(value) > v.MaxLen {
		return apperrors.With(apperrors.ErrBadRequest, "%s exceeds %d bytes", field, v.MaxLen)
	}
	if !utf8.ValidString(value) {
		return apperrors.With(apperrors.ErrBadRequest, "%s is not valid UTF-8", field)
	}
	for _, r := range value {
		if r == 0 {
			return apperrors.With(apperrors.ErrBadRequest, "%s contains a null byte", field)
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return apperrors.With(apperrors.ErrBadRequest, "%s contains control characters", field)
		}
	}
	if v.MaxRepetition > 0 && hasExcessiveRepetition(value, v.MaxRepetition) {
		return apperrors.With(apperrors.ErrBadRequest, "%s repeats one character more than %d times", field, v.MaxRepetition)
	}
	return nil
}

// CheckAll validates pairs of field name and value, stopping at the first error
func (v *TextValidator) CheckAll(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if err := v.Check(pairs[i], pairs[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func hasExcessiveRepetition(input string, maxLen int) bool {
	if len(input) <= maxLen {
		return false
	}

	var prev rune
	run := 0
	for i, r := range input {
		if i > 0 && r == prev {
			run++
			if run > maxLen {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}
