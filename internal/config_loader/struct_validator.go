package config_loader

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

// mirrorNamePattern keeps mirror names usable as URL path segments and metric labels
var mirrorNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// yamlName is the tag name func: validator namespaces read like the YAML file.
func yamlName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

func getStructValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(yamlName)
		//nolint:errcheck // tags are static
		_ = v.RegisterValidation("mirrorname", func(fl validator.FieldLevel) bool {
			return mirrorNamePattern.MatchString(fl.Field().String())
		})
		//nolint:errcheck // tags are static
		_ = v.RegisterValidation("port", func(fl validator.FieldLevel) bool {
			port, err := strconv.Atoi(fl.Field().String())
			return err == nil && port > 0 && port <= 65535
		})
		structValidator = v
	})
	return structValidator
}

// ValidateStruct checks the validate tags of a MirrorConfig. Messages name
// the YAML path, e.g. "spec.resources[0].kind is required".
func ValidateStruct(s interface{}) *ValidationErrors {
	err := getStructValidator().Struct(s)
	if err == nil {
		return nil
	}

	errs := &ValidationErrors{}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		errs.Add("", err.Error())
		return errs
	}
	for _, e := range fieldErrs {
		errs.Add("", describe(e))
	}
	return errs
}

func describe(e validator.FieldError) string {
	path := yamlPath(e.Namespace())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "eq":
		// apiVersion and kind identify the file format
		return fmt.Sprintf("invalid %s %q (expected: %q)", path, e.Value(), e.Param())
	case "mirrorname":
		return fmt.Sprintf("%s %q: mirror names must start with a lowercase letter and contain only lowercase letters, digits and hyphens", path, e.Value())
	case "port":
		return fmt.Sprintf("%s %q: must be a port number between 1 and 65535", path, e.Value())
	case "min":
		return fmt.Sprintf("%s: must have at least %s entry", path, e.Param())
	case "unique":
		return fmt.Sprintf("%s: contains duplicate %s values", path, uniqueKey(e))
	case "gte":
		return fmt.Sprintf("%s: must be >= %s", path, e.Param())
	default:
		return fmt.Sprintf("%s: failed %s check", path, e.Tag())
	}
}

// uniqueKey resolves the Go field named by unique=<Field> on a slice of
// structs to its YAML name.
func uniqueKey(e validator.FieldError) string {
	elem := e.Type()
	for elem.Kind() == reflect.Slice || elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() == reflect.Struct {
		if f, ok := elem.FieldByName(e.Param()); ok {
			return yamlName(f)
		}
	}
	return e.Param()
}

// yamlPath drops the root type: "MirrorConfig.spec.resources[0].name" -> "spec.resources[0].name"
func yamlPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}
