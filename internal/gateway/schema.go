package gateway

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Field describes one provider specific checkout option.
// Rules uses validator tags, e.g. "startswith=pm_".
type Field struct {
	Name        string `json:"name"`
	Rules       string `json:"rules,omitempty"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Schema lists the options a provider accepts
type Schema struct {
	Fields []Field `json:"fields"`
}

// Validate checks options against the schema. Unknown options are rejected.
func (s Schema) Validate(options map[string]any) error {
	known := make(map[string]struct{}, len(s.Fields))
	var problems []string

	for _, f := range s.Fields {
		known[f.Name] = struct{}{}
		val, ok := options[f.Name]
		if !ok || val == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s is required", f.Name))
			}
			continue
		}
		if f.Rules == "" {
			continue
		}
		if err := validate.Var(val, f.Rules); err != nil {
			problems = append(problems, fmt.Sprintf("%s fails %s", f.Name, f.Rules))
		}
	}

	for name := range options {
		if _, ok := known[name]; !ok {
			problems = append(problems, fmt.Sprintf("%s is not accepted", name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(problems, "; "))
	}
	return nil
}
