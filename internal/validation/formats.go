package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/animus-labs/dataguard/internal/catalog"
	"github.com/go-playground/validator/v10"
)

var (
	rutPattern   = regexp.MustCompile(`^\d{1,2}\.?\d{3}\.?\d{3}-[\dkK]$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-().]{7,20}$`)
)

func newFieldValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("rut", func(fl validator.FieldLevel) bool {
		return rutPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("phone_loose", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return v
}

// checkFormat returns a human message when value violates rule.
func checkFormat(v *validator.Validate, rule catalog.FieldRule, value any) (string, bool) {
	s, ok := value.(string)
	if !ok {
		if rule.Type == catalog.FieldMaxLen {
			s = fmt.Sprint(value)
		} else {
			return fmt.Sprintf("expected text, got %T", value), false
		}
	}
	s = strings.TrimSpace(s)

	var tag, msg string
	switch rule.Type {
	case catalog.FieldEmail:
		tag, msg = "email", "is not a valid email address"
	case catalog.FieldRUT:
		tag, msg = "rut", "is not a valid RUT (expected 12.345.678-9)"
	case catalog.FieldPhone:
		tag, msg = "phone_loose", "does not look like a phone number"
	case catalog.FieldMaxLen:
		tag, msg = fmt.Sprintf("max=%d", rule.Max), fmt.Sprintf("is longer than %d characters", rule.Max)
	default:
		return "", true
	}
	if err := v.Var(s, tag); err != nil {
		return msg, false
	}
	return "", true
}
