package validation

import (
	"fmt"
	"net/mail"
	"strings"

	errors "github.com/frahmantamala/facilities-console/internal"
)

type ValidatorFunc func(interface{}) *errors.AppError

type FieldValidator struct {
	FieldName  string
	Value      interface{}
	Validators []ValidatorFunc
}

type ValidationBuilder struct {
	fields []FieldValidator
}

func NewValidator() *ValidationBuilder {
	return &ValidationBuilder{
		fields: make([]FieldValidator, 0),
	}
}

func (v *ValidationBuilder) Field(name string, value interface{}) *FieldValidator {
	fv := FieldValidator{
		FieldName:  name,
		Value:      value,
		Validators: make([]ValidatorFunc, 0),
	}
	v.fields = append(v.fields, fv)
	return &v.fields[len(v.fields)-1]
}

func (fv *FieldValidator) Required() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		switch v := value.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return fv.fail(fmt.Sprintf("%s is required", fv.FieldName))
			}
		case *string:
			if v == nil || strings.TrimSpace(*v) == "" {
				return fv.fail(fmt.Sprintf("%s is required", fv.FieldName))
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Email() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		v, ok := value.(string)
		if !ok || v == "" {
			return nil
		}
		if addr, err := mail.ParseAddress(v); err != nil || addr.Address != v {
			return fv.fail(fmt.Sprintf("%s must be a valid email address", fv.FieldName))
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) MaxLength(max int) *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok {
			if len(v) > max {
				return fv.fail(fmt.Sprintf("%s must not exceed %d characters", fv.FieldName, max))
			}
		}
		return nil
	})
	return fv
}

// Token rejects values containing the grant separator or whitespace, so a
// resource or action always maps to a single grant half.
func (fv *FieldValidator) Token() *FieldValidator {
	fv.Validators = append(fv.Validators, func(value interface{}) *errors.AppError {
		if v, ok := value.(string); ok {
			if strings.ContainsAny(v, ": \t\n") {
				return fv.fail(fmt.Sprintf("%s must be a single word", fv.FieldName))
			}
		}
		return nil
	})
	return fv
}

func (fv *FieldValidator) Custom(validator func(interface{}) *errors.AppError) *FieldValidator {
	fv.Validators = append(fv.Validators, validator)
	return fv
}

func (fv *FieldValidator) fail(message string) *errors.AppError {
	return errors.NewValidationFieldError(fv.FieldName, message, errors.ErrCodeValidationFailed)
}

// Validate runs every field's validators and stops at the first failure of
// each field.
func (v *ValidationBuilder) Validate() *errors.AppError {
	var validationErrors []errors.ValidationError

	for _, field := range v.fields {
		for _, validator := range field.Validators {
			appErr := validator(field.Value)
			if appErr == nil {
				continue
			}
			if details, ok := appErr.Details.(errors.ValidationErrors); ok {
				validationErrors = append(validationErrors, details.Errors...)
			} else {
				validationErrors = append(validationErrors, errors.ValidationError{
					Field:   field.FieldName,
					Message: appErr.Message,
					Code:    string(appErr.Code),
				})
			}
			break
		}
	}

	if len(validationErrors) > 0 {
		return errors.NewValidationError("Validation failed", errors.ErrCodeValidationFailed).
			WithDetails(errors.ValidationErrors{Errors: validationErrors})
	}

	return nil
}

func ValidateLogin(email, password string) *errors.AppError {
	validator := NewValidator()
	validator.Field("email", email).
		Required().
		Email().
		MaxLength(254)
	validator.Field("password", password).
		Required()
	return validator.Validate()
}

// ValidatePermissionQuery checks a resource/action pair; the action may be
// empty.
func ValidatePermissionQuery(resource, action string) *errors.AppError {
	validator := NewValidator()
	validator.Field("resource", resource).
		Required().
		Token().
		MaxLength(64)
	validator.Field("action", action).
		Token().
		MaxLength(64)
	return validator.Validate()
}
