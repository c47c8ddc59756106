package shared

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct checks validate tags and reports the first failing field as a ValidationError.
func ValidateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return Invalid(toSnake(fe.Field()), "failed "+fe.Tag())
	}
	return Invalid("", err.Error())
}

func toSnake(name string) string {
	var b strings.Builder
	var prev rune
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(prev >= 'A' && prev <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}
