package validator

import (
	"github.com/go-playground/validator/v10"
)

// validStatuses are the only values a command-board status may take (spec
// §3, "Command state").
var validStatuses = map[string]bool{
	"init":       true,
	"scheduled":  true,
	"executing":  true,
	"successful": true,
	"failed":     true,
	"unknown":    true,
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	_ = v.RegisterValidation("tedge_status", validateStatus)

	return &Validator{
		validate: v,
	}
}

// ValidateStruct validates a struct using tags.
func (v *Validator) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}

// ValidateVar validates a single variable against a tag.
func (v *Validator) ValidateVar(field interface{}, tag string) error {
	return v.validate.Var(field, tag)
}

func validateStatus(fl validator.FieldLevel) bool {
	return validStatuses[fl.Field().String()]
}
