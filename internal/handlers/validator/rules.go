package validator

import "github.com/go-playground/validator/v10"

func registerFn(tag string, fn func(fl validator.FieldLevel) bool) func(v *validator.Validate) {
	return func(v *validator.Validate) {
		_ = v.RegisterValidation(tag, fn)
	}
}

// NewJobValidationRules registers the tags used by job requests.
func NewJobValidationRules() []ValidationRule {
	return []ValidationRule{
		{
			Rule: registerFn("request_id", requestIDValidator),
		},
		{
			Rule: registerFn("schema_version", schemaVersionValidator),
		},
		{
			Rule: registerFn("webhook_status", webhookStatusValidator),
		},
		{
			Rule: func(v *validator.Validate) {
				v.RegisterTagNameFunc(jsonTagName)
			},
		},
	}
}
