// Package validate collects request-constraint violations for the API layer.
//
// Validation is pure: no engine or database calls, no side effects, and the
// same input always yields the same violation set. All checks run in one pass
// and every failed constraint is reported, so clients can fix a request in a
// single round trip. Handlers feed the collected set into apierr.Invalid.
//
// Two sources of violations exist: structural failures raised by gin's JSON
// binding (go-playground/validator tags, type mismatches, syntax errors) and
// semantic checks declared per route via the Collector.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/clafollett/codetriever/internal/apierr"
)

// Collector accumulates violations across a request's declared constraints.
// The zero value is ready to use.
type Collector struct {
	violations []apierr.Violation
}

// Violations returns everything collected so far. Nil when the request is
// well-formed.
func (c *Collector) Violations() []apierr.Violation { return c.violations }

// Err returns an invalid_input taxonomy error carrying the full violation
// set, or nil when no constraint failed.
func (c *Collector) Err() error {
	if len(c.violations) == 0 {
		return nil
	}
	return apierr.Invalid(c.violations)
}

// add appends one violation.
func (c *Collector) add(field, rule, message string) {
	c.violations = append(c.violations, apierr.Violation{Field: field, Rule: rule, Message: message})
}

// Required checks that a string field is non-blank after trimming.
func (c *Collector) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		c.add(field, "required", field+" is required")
	}
}

// MaxRunes checks that a string field does not exceed max runes. Blank values
// pass; pair with Required when the field is mandatory.
func (c *Collector) MaxRunes(field, value string, max int) {
	if n := utf8.RuneCountInString(value); n > max {
		c.add(field, "max", fmt.Sprintf("%s must be at most %d characters, got %d", field, max, n))
	}
}

// IntRange checks that an int field lies in [min, max].
func (c *Collector) IntRange(field string, value, min, max int) {
	if value < min || value > max {
		c.add(field, "range", fmt.Sprintf("%s must be between %d and %d", field, min, max))
	}
}

// RepoLocator checks that a repository reference is an absolute http(s)/git
// URL or an absolute filesystem path. Blank values pass; pair with Required.
func (c *Collector) RepoLocator(field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if path.IsAbs(value) {
		return
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		c.add(field, "locator", field+" must be an absolute URL or absolute path")
		return
	}
	switch u.Scheme {
	case "http", "https", "git", "ssh":
	default:
		c.add(field, "locator", field+" must use an http(s), git, or ssh URL")
	}
}

// Binding translates a gin ShouldBindJSON failure into violations, one per
// failed constraint. go-playground/validator reports every failed field in a
// single pass, which keeps the one-shot contract intact for tag-declared
// rules. Syntax and type errors yield a single body-level violation, since no
// field set can be derived from an unparseable payload.
func Binding(err error) []apierr.Violation {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]apierr.Violation, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, apierr.Violation{
				Field:   jsonFieldName(fe),
				Rule:    fe.Tag(),
				Message: bindingMessage(fe),
			})
		}
		return out
	}

	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		field := ute.Field
		if field == "" {
			field = "body"
		}
		return []apierr.Violation{{
			Field:   field,
			Rule:    "type",
			Message: fmt.Sprintf("%s must be of type %s", field, ute.Type),
		}}
	}

	return []apierr.Violation{{
		Field:   "body",
		Rule:    "json",
		Message: "request body must be valid JSON",
	}}
}

// jsonFieldName lowercases the struct field name to match the wire name.
// The request DTOs keep json tags aligned with snake_case field names, so a
// simple fold is sufficient.
func jsonFieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

// bindingMessage renders a stable human message per validator tag.
func bindingMessage(fe validator.FieldError) string {
	field := jsonFieldName(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed the %s constraint", field, fe.Tag())
	}
}
