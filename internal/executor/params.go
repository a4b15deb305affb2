package executor

import (
	"fmt"

	"github.com/nextlevelbuilder/automator/internal/store"
)

// ValidateParams checks values against a template's parameter schema and
// returns one message per violation: unknown names, missing required
// parameters without a default, and type mismatches.
func ValidateParams(schema store.ParamDefs, values store.ParamValues) []string {
	var problems []string

	known := make(map[string]store.ParamDef, len(schema))
	for _, def := range schema {
		known[def.Name] = def
	}

	for name := range values {
		if _, ok := known[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	for _, def := range schema {
		value, present := values[def.Name]
		if !present {
			if def.Required && def.Default == nil {
				problems = append(problems, fmt.Sprintf("missing required parameter %q", def.Name))
			}
			continue
		}
		if value == nil {
			continue
		}
		if !typeMatches(def.Type, value) {
			problems = append(problems,
				fmt.Sprintf("parameter %q must be a %s, got %T", def.Name, def.Type, value))
		}
	}
	return problems
}

// EffectiveParams overlays explicit values onto schema defaults.
func EffectiveParams(schema store.ParamDefs, values store.ParamValues) map[string]any {
	out := make(map[string]any, len(schema)+len(values))
	for _, def := range schema {
		if def.Default != nil {
			out[def.Name] = def.Default
		}
	}
	for name, value := range values {
		out[name] = value
	}
	return out
}

func typeMatches(paramType string, value any) bool {
	switch paramType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}
