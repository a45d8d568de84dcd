package dto

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"battlescope/pkg/universe"
)

// RegisterCustomValidators registers validation rules for ruleset patches
func RegisterCustomValidators(validate *validator.Validate) error {
	if err := validate.RegisterValidation("security_type", validateSecurityType); err != nil {
		return fmt.Errorf("failed to register security_type validator: %w", err)
	}
	return nil
}

// validateSecurityType accepts the security classes the universe classifier
// can produce
func validateSecurityType(fl validator.FieldLevel) bool {
	return universe.IsValidSecurityType(fl.Field().String())
}
