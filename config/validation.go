package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		// Report fields by their koanf path segment, e.g. dispatcher.retry.wait.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg against its struct constraints. The first violation is
// returned as a *ConfigError naming the koanf path of the offending field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewValidationError("config", "configuration is nil")
	}

	err := structValidator().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	return fieldError(fieldErrs[0])
}

func fieldError(fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("invalid value %v", fe.Value()), strings.Fields(fe.Param()))
	case "min":
		return NewValidationError(field, fmt.Sprintf("must be at least %s", fe.Param()))
	case "gt":
		return NewValidationError(field, fmt.Sprintf("must be greater than %s", fe.Param()))
	default:
		return NewValidationError(field, fmt.Sprintf("failed %s validation", fe.Tag()))
	}
}
