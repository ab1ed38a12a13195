// Package validation plugs go-playground/validator into echo's c.Validate.
package validation

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate implements echo.Validator. Failures come back as a 400
// *echo.HTTPError whose message lists every rejected field.
func (v *Validator) Validate(i interface{}) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgs := make([]string, 0, len(fields))
	for _, f := range sortedKeys(fields) {
		msgs = append(msgs, fields[f])
	}
	return echo.NewHTTPError(http.StatusBadRequest, strings.Join(msgs, "; "))
}

// FieldErrors maps each failing field to a readable message.
func FieldErrors(err error) map[string]string {
	out := make(map[string]string)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return out
	}
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "gte", "min":
			out[field] = fmt.Sprintf("%s must be at least %s", field, e.Param())
		case "lte", "max":
			out[field] = fmt.Sprintf("%s must be at most %s", field, e.Param())
		case "datetime":
			out[field] = fmt.Sprintf("%s must be a date in %s format", field, e.Param())
		case "uuid":
			out[field] = field + " must be a UUID"
		case "oneof":
			out[field] = fmt.Sprintf("%s must be one of [%s]", field, e.Param())
		default:
			out[field] = field + " is invalid"
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
