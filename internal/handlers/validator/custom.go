package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	requestIDRegex     = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	schemaVersionRegex = regexp.MustCompile(`^v?[0-9]+(\.[0-9]+){0,2}$`)
)

func requestIDValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return requestIDRegex.MatchString(val)
}

func schemaVersionValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return schemaVersionRegex.MatchString(val)
}

func webhookStatusValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	switch strings.ToLower(val) {
	case "success", "failed":
		return true
	}
	return false
}

// jsonTagName reports fields by their json name.
func jsonTagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}
