package core

import (
	"github.com/go-playground/validator/v10"

	"shovel/internal/types"
)

// Validator wraps go-playground/validator for request struct validation.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with struct-level validation enabled.
func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateStruct validates a request struct against its validate tags,
// translating failures into a single validation AppError whose details map
// field names to the violated rule.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeValidationMissingField, "request validation failed", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "request validation failed", err, details)
}
