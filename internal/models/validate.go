package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// specValidate reports field errors under their JSON names.
var specValidate *validator.Validate

func init() {
	specValidate = validator.New(validator.WithRequiredStructEnabled())
	specValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks the structural rules on the spec. Command syntax for the
// declared type is checked separately by the executor for that type.
func (s *ActionSpec) Validate() error {
	err := specValidate.Struct(s)
	if err == nil {
		if s.RollbackCommand != nil && strings.TrimSpace(*s.RollbackCommand) == "" {
			return &ValidationError{Field: "rollback_command", Reason: "must not be blank"}
		}
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error(), Err: err}
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Reason: describeFieldError(fe), Err: err}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
