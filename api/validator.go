/*
validator.go - Required-field validation for submissions

PURPOSE:
  The engine delegates required-field policy to its caller; this is the
  portal's policy. The field sets mirror the submission forms: a project
  cannot be submitted without a state, objectives, and a budget; a report
  needs its project link and type.

The lifecycle treats the validator as opaque - swapping in a different
policy (or a remote validation service) requires no engine change.
*/
package api

import (
	"fmt"

	"github.com/reliefops/grant-engine/grants"
)

// requiredFields lists which keys must be present and non-empty per entity.
var requiredFields = map[string][]string{
	"project": {"state", "objectives", "expenses"},
	"report":  {"project_id", "report_type"},
}

// SubmissionValidator returns the portal's required-field validator.
func SubmissionValidator() grants.Validator {
	return grants.ValidatorFunc(func(entity string, fields map[string]any) error {
		for _, field := range requiredFields[entity] {
			if isMissing(fields[field]) {
				return &grants.ValidationError{
					Entity:  entity,
					Field:   field,
					Message: "is required",
				}
			}
		}
		return nil
	})
}

func isMissing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case []grants.Expense:
		return len(x) == 0
	default:
		return fmt.Sprintf("%v", x) == ""
	}
}
