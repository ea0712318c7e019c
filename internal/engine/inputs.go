package engine

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/shaiso/Ensemble/internal/domain"
)

// ApplyInputs проверяет входные данные run по описанию Inputs
// и подставляет значения по умолчанию.
//
// Параметры, не описанные в defs, передаются как есть.
// Исходная map не изменяется.
func ApplyInputs(defs map[string]domain.InputDef, input map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(input)+len(defs))
	for k, v := range input {
		out[k] = v
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs[name]
		value, ok := out[name]
		if !ok || value == nil {
			switch {
			case def.Default != nil:
				out[name] = def.Default
				continue
			case def.Required:
				return nil, NewValidationError("", "inputs."+name,
					fmt.Sprintf("required input %q is missing", name), ErrMissingInput)
			default:
				continue
			}
		}

		if !matchesType(def.Type, value) {
			return nil, NewValidationError("", "inputs."+name,
				fmt.Sprintf("input %q must be %s, got %T", name, def.Type, value), ErrInputType)
		}
	}

	return out, nil
}

// matchesType проверяет значение по имени типа из InputDef.
// Пустой или неизвестный тип принимает любое значение.
func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		return reflect.ValueOf(v).Kind() == reflect.Map
	case "array":
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	default:
		return true
	}
}
