package validator

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxIdentityLength bounds platform user IDs.
const MaxIdentityLength = 64

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()

	// Use JSON tag names instead of struct field names for error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			// If no JSON tag, use the field name in lowercase
			return strings.ToLower(fld.Name)
		}
		return name
	})

	// httpurl accepts absolute http(s) URLs with a host
	v.RegisterValidation("httpurl", func(fl validator.FieldLevel) bool {
		return IsHTTPURL(fl.Field().String())
	})

	// identity rejects whitespace and path separators in platform user IDs
	v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return IsIdentity(fl.Field().String())
	})

	return &Validator{
		validate: v,
	}
}

// IsHTTPURL reports whether raw is an absolute http or https URL with a host.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// IsIdentity reports whether s is a usable platform user ID: non-empty, at
// most MaxIdentityLength bytes and free of whitespace and URL delimiters.
func IsIdentity(s string) bool {
	return s != "" && len(s) <= MaxIdentityLength && !strings.ContainsAny(s, " \t\r\n/?#%")
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return formatValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func formatValidationErrors(errs validator.ValidationErrors) error {
	var messages []string
	for _, err := range errs {
		var message string
		field := strings.ToLower(err.Field())

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "min":
			message = fmt.Sprintf("%s must be at least %s characters", field, err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", field, err.Param())
		case "uuid":
			message = fmt.Sprintf("%s must be a valid UUID", field)
		case "httpurl":
			message = fmt.Sprintf("%s must be an absolute http or https URL", field)
		case "identity":
			message = fmt.Sprintf("%s contains invalid characters", field)
		default:
			message = fmt.Sprintf("%s failed validation for %s", field, err.Tag())
		}
		messages = append(messages, message)
	}

	return errors.New(strings.Join(messages, "; "))
}
