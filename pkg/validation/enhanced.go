// Package validation provides go-playground/validator integration
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is the shared validator instance with the custom rules below.
var Validate *validator.Validate

var (
	appletNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9 _-]{0,63}$`)
	slotNameRe   = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
	loggerNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

func init() {
	Validate = validator.New()

	Validate.RegisterValidation("applet_name", validateAppletName)
	Validate.RegisterValidation("slot_name", validateSlotName)
	Validate.RegisterValidation("slot_ref", validateSlotRef)
	Validate.RegisterValidation("axis_tags", validateAxisTags)
	Validate.RegisterValidation("logger_name", validateLoggerName)
	Validate.RegisterValidation("log_level", validateLogLevel)
	Validate.RegisterValidation("store_dsn", validateStoreDSN)

	// Report JSON or HCL field names instead of Go field names.
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, key := range []string{"hcl", "json", "yaml"} {
			name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})
}

// ValidateWithPlayground validates struct tags and returns ValidationErrors.
func ValidateWithPlayground(s interface{}) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Namespace(),
			Value:   fe.Value(),
			Message: getErrorMessage(fe),
		})
	}
	return out
}

// getErrorMessage returns a human-readable error message
func getErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	case "applet_name":
		return "must be a valid applet name (letters, digits, space, underscore, hyphen)"
	case "slot_name":
		return "must be a valid slot name"
	case "slot_ref":
		return "must reference a slot as <applet>.<slot>"
	case "axis_tags":
		return "must be distinct axes out of t, x, y, z, c"
	case "logger_name":
		return "must be a dotted logger name"
	case "log_level":
		return "must be one of trace, debug, info, warn, error, critical"
	case "store_dsn":
		return "must be a file path, sqlite:<path>, memory: or postgres:// URL"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}

func validateAppletName(fl validator.FieldLevel) bool {
	return appletNameRe.MatchString(fl.Field().String())
}

func validateSlotName(fl validator.FieldLevel) bool {
	return slotNameRe.MatchString(fl.Field().String())
}

// validateSlotRef accepts "<applet>.<Slot>"; the applet part may contain
// spaces, the slot part may not.
func validateSlotRef(fl validator.FieldLevel) bool {
	_, _, err := SplitSlotRef(fl.Field().String())
	return err == nil
}

// SplitSlotRef splits "<applet>.<slot>" at the last dot.
func SplitSlotRef(ref string) (applet, slot string, err error) {
	i := strings.LastIndex(ref, ".")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("invalid slot reference %q", ref)
	}
	applet, slot = ref[:i], ref[i+1:]
	if !appletNameRe.MatchString(applet) || !slotNameRe.MatchString(slot) {
		return "", "", fmt.Errorf("invalid slot reference %q", ref)
	}
	return applet, slot, nil
}

func validateAxisTags(fl validator.FieldLevel) bool {
	return ValidAxisTags(fl.Field().String())
}

// ValidAxisTags reports whether s is a non-empty set of distinct known axes.
func ValidAxisTags(s string) bool {
	if s == "" {
		return false
	}
	seen := map[rune]bool{}
	for _, r := range s {
		if !strings.ContainsRune("txyzc", r) || seen[r] {
			return false
		}
		seen[r] = true
	}
	return true
}

func validateLoggerName(fl validator.FieldLevel) bool {
	return loggerNameRe.MatchString(fl.Field().String())
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "trace", "debug", "info", "warn", "warning", "error", "critical", "fatal":
		return true
	}
	return false
}

func validateStoreDSN(fl validator.FieldLevel) bool {
	dsn := fl.Field().String()
	switch {
	case dsn == "":
		return false
	case dsn == "memory:":
		return true
	case strings.HasPrefix(dsn, "sqlite:"):
		return len(dsn) > len("sqlite:")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return true
	default:
		return !strings.Contains(dsn, "://")
	}
}
