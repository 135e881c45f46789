// Package validator wraps go-playground/validator for request bodies.
package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	sep = " and "
)

const (
	NotBlankTag = "notblank"
)

var valid = map[string]func(fl validator.FieldLevel) bool{
	NotBlankTag: ValidateNotBlank,
}

func ValidateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

type Error struct {
	FailedField string
	Tag         string
	Value       interface{}
}

type XValidator struct {
	validator *validator.Validate
}

func NewXValidator() (*XValidator, error) {
	v := validator.New()
	for key, function := range valid {
		if err := v.RegisterValidation(key, function); err != nil {
			return nil, err
		}
	}
	return &XValidator{validator: v}, nil
}

func (x *XValidator) Validate(data interface{}) []Error {
	var validationErrors []Error
	errs := x.validator.Struct(data)
	if errs != nil {
		fieldErrs, ok := errs.(validator.ValidationErrors)
		if !ok {
			return []Error{{FailedField: "body", Tag: "struct"}}
		}
		for _, err := range fieldErrs {
			validationErrors = append(validationErrors, Error{
				FailedField: err.Field(),
				Tag:         err.Tag(),
				Value:       err.Value(),
			})
		}
	}
	return validationErrors
}

// Check returns nil for a valid struct, otherwise one message naming every failed field.
func (x *XValidator) Check(data interface{}) error {
	errs := x.Validate(data)
	if len(errs) == 0 {
		return nil
	}
	errMsgs := make([]string, 0, len(errs))
	for _, err := range errs {
		errMsgs = append(errMsgs, fmt.Sprintf("field %s failed on %s", err.FailedField, err.Tag))
	}
	return fmt.Errorf("%s", strings.Join(errMsgs, sep))
}
