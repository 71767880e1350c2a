// Package validation wraps a shared go-playground validator and turns its
// errors into messages that are safe to return to API clients.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
)

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return jsonName(f.Tag.Get("json"), f.Name)
		})
		// slug: a name that is safe inside a pub/sub subject or URL segment.
		_ = validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
			return slugPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Error is a single field failure.
type Error struct {
	Field string
	Tag   string
	Param string
}

func (e Error) Error() string {
	switch e.Tag {
	case "required":
		return fmt.Sprintf("%s is required", e.Field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", e.Field, e.Param)
	case "min":
		return fmt.Sprintf("%s must be at least %s", e.Field, e.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", e.Field, e.Param)
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range", e.Field)
	case "slug":
		return fmt.Sprintf("%s may only contain letters, digits, '-' and '_'", e.Field)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is empty", e.Field, e.Param)
	case "email":
		return fmt.Sprintf("%s must be a valid e-mail address", e.Field)
	case "len":
		return fmt.Sprintf("%s must have exactly %s items", e.Field, e.Param)
	default:
		return fmt.Sprintf("%s is invalid (%s)", e.Field, e.Tag)
	}
}

// Errors is returned by Struct when one or more fields fail.
type Errors []Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Struct validates s against its `validate` tags.
func Struct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Struct.field.sub"; drop the struct name.
		ns := fe.Namespace()
		out = append(out, Error{Field: ns[strings.Index(ns, ".")+1:], Tag: fe.Tag(), Param: fe.Param()})
	}
	return out
}

func jsonName(tag, fallback string) string {
	name := strings.SplitN(tag, ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fallback
	}
	return name
}
