// Package validation configures struct validation for request payloads and
// converts failures into a field map suitable for API responses.
package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

var (
	pincodeRe = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	phoneRe   = regexp.MustCompile(`^\+?[0-9]{10,13}$`)
)

// New returns a validator with the checkout rules registered:
//
//	pincode  six digits, first digit non-zero
//	phone    10 to 13 digits with an optional leading +
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// Report json field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("pincode", func(fl validatorv10.FieldLevel) bool {
		return ValidPincode(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validatorv10.FieldLevel) bool {
		return phoneRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})

	return v
}

// ValidPincode reports whether s is a well-formed Indian postal code.
func ValidPincode(s string) bool {
	return pincodeRe.MatchString(s)
}
