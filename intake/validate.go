package intake

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

// ValidationError carries per-field messages keyed by JSON path, for example
// "contacts.primary.email".
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	paths := make([]string, 0, len(e.Fields))
	for p := range e.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return fmt.Sprintf("invalid requirements: %s", strings.Join(paths, ", "))
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStep checks the namespaces owned by step. It returns nil or a
// *ValidationError.
func ValidateStep(r ProjectRequirements, step int) error {
	if step < 1 || step > Steps {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	fields := map[string]string{}
	for _, section := range stepSections[step] {
		validateSection(r, section, fields)
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

// Validate checks every step.
func Validate(r ProjectRequirements) error {
	fields := map[string]string{}
	for step := 1; step <= Steps; step++ {
		for _, section := range stepSections[step] {
			validateSection(r, section, fields)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}

func validateSection(r ProjectRequirements, section string, fields map[string]string) {
	target := sectionOf(&r, section)
	if err := validate.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			fields[section] = err.Error()
			return
		}
		for _, fe := range verrs {
			fields[fieldPath(section, fe)] = message(fe)
		}
	}

	switch section {
	case "platform":
		if !r.Platform.Any() {
			fields["platform"] = "select at least one platform"
		}
	case "timeline":
		checkDateOrder(r.Timeline, fields)
	}
}

// fieldPath turns "Basics.projectName" style namespaces into
// "basics.projectName".
func fieldPath(section string, fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return section + "." + rest
	}
	return section + "." + fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "datetime":
		return "must be a date in YYYY-MM-DD form"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

func checkDateOrder(t Timeline, fields map[string]string) {
	start, err := time.Parse(dateLayout, t.StartDate)
	if err != nil {
		return
	}
	if launch, err := time.Parse(dateLayout, t.TargetLaunchDate); err == nil && launch.Before(start) {
		fields["timeline.targetLaunchDate"] = "must not be before the start date"
	}
	if t.MVPDate == "" {
		return
	}
	if mvp, err := time.Parse(dateLayout, t.MVPDate); err == nil && mvp.Before(start) {
		fields["timeline.mvpDate"] = "must not be before the start date"
	}
}
