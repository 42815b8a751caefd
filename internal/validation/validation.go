// Package validation wraps go-playground/validator with the broker's custom rules
// and converts failures into Validation app errors.
package validation

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jrsteele09/go-sso-broker/internal/errors"
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9_ -]{1,25}$`)

var (
	once     sync.Once
	validate *validator.Validate
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("authlabel", func(fl validator.FieldLevel) bool {
			return labelPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Struct validates v. The first failing field becomes a Validation error; messages
// come from the optional messages map keyed by field name.
func Struct(v any, messages map[string]string) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !apperrors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Validation("Invalid request")
	}
	fe := fieldErrs[0]
	if msg, ok := messages[fe.Field()]; ok {
		return apperrors.ValidationField(fe.Field(), msg)
	}
	return apperrors.ValidationField(fe.Field(), "Invalid "+fe.Field())
}

// Email reports whether s is a syntactically valid email address.
func Email(s string) bool {
	return Validator().Var(s, "required,email") == nil
}

// Label reports whether s is an acceptable authenticator label.
func Label(s string) bool {
	return Validator().Var(s, "authlabel") == nil
}
