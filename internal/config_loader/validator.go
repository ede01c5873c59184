package config_loader

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// ValidationError is one failed check, located by its yaml path
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors holds multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError
}

func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(ve.Errors))
	for i := range ve.Errors {
		msgs = append(msgs, ve.Errors[i].Error())
	}
	return fmt.Sprintf("validation failed with %d error(s):\n  - %s", len(ve.Errors), strings.Join(msgs, "\n  - "))
}

func (ve *ValidationErrors) Add(path, message string) {
	ve.Errors = append(ve.Errors, ValidationError{Path: path, Message: message})
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// Validate runs the checks struct tags cannot express. It expects defaults
// to have been applied.
func Validate(c *MirrorConfig) error {
	errs := &ValidationErrors{}

	watchPath := FieldSpec + "." + FieldWatch
	initial := validateDuration(errs, watchPath+".initialBackoff", c.Spec.Watch.InitialBackoff)
	maxBackoff := validateDuration(errs, watchPath+".maxBackoff", c.Spec.Watch.MaxBackoff)
	if initial > 0 && maxBackoff > 0 && maxBackoff < initial {
		errs.Add(watchPath, fmt.Sprintf("maxBackoff %s is shorter than initialBackoff %s", maxBackoff, initial))
	}

	for i, r := range c.Spec.Resources {
		path := fmt.Sprintf("%s.%s[%d]", FieldSpec, FieldResources, i)
		if _, err := schema.ParseGroupVersion(r.APIVersion); err != nil {
			errs.Add(path+".apiVersion", fmt.Sprintf("invalid apiVersion %q: %v", r.APIVersion, err))
		}
		if r.Resource != strings.ToLower(r.Resource) {
			errs.Add(path+".resource", fmt.Sprintf("%q must be the lowercase plural resource name", r.Resource))
		}
		if r.LabelSelector != "" {
			if _, err := labels.Parse(r.LabelSelector); err != nil {
				errs.Add(path+".labelSelector", fmt.Sprintf("invalid label selector: %v", err))
			}
		}
	}

	selPath := FieldSpec + "." + FieldSelection
	validateDuration(errs, selPath+".timeout", c.Spec.Selection.Timeout)
	if c.Spec.Selection.Resource != "" {
		if _, ok := c.FindResource(c.Spec.Selection.Resource); !ok {
			errs.Add(selPath+".resource", fmt.Sprintf("%q does not name an entry of spec.resources", c.Spec.Selection.Resource))
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateDuration(errs *ValidationErrors, path, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		errs.Add(path, fmt.Sprintf("invalid duration %q", value))
		return 0
	}
	if d <= 0 {
		errs.Add(path, fmt.Sprintf("duration %q must be positive", value))
		return 0
	}
	return d
}
