package plugin

import "fmt"

// FieldType is the declared value type of a configuration field.
type FieldType string

const (
	FieldString FieldType = "string"
	FieldInt    FieldType = "int"
	FieldBool   FieldType = "bool"
	FieldSelect FieldType = "select"
)

// ConfigField is one entry in a plugin's declarative configuration schema.
type ConfigField struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Default  any       `json:"default,omitempty"`
	Required bool      `json:"required,omitempty"`
	// Options constrains FieldSelect values.
	Options []string `json:"options,omitempty"`
}

// ValidateValues checks submitted configuration values against the schema:
// required fields present, types matching, select values among options.
// Keys not declared in the schema are rejected.
func ValidateValues(schema []ConfigField, values map[string]any) error {
	fields := make(map[string]ConfigField, len(schema))
	for _, f := range schema {
		fields[f.Key] = f
	}

	for key := range values {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
	}

	for _, f := range schema {
		v, ok := values[f.Key]
		if !ok {
			if f.Required && f.Default == nil {
				return fmt.Errorf("missing required config key %q", f.Key)
			}
			continue
		}
		if err := checkFieldValue(f, v); err != nil {
			return err
		}
	}
	return nil
}

func checkFieldValue(f ConfigField, v any) error {
	switch f.Type {
	case FieldString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("config key %q: expected string, got %T", f.Key, v)
		}
	case FieldInt:
		switch v.(type) {
		case int, int64:
		case float64:
			// JSON numbers decode as float64; accept whole values.
			if v != float64(int64(v.(float64))) {
				return fmt.Errorf("config key %q: expected integer, got %v", f.Key, v)
			}
		default:
			return fmt.Errorf("config key %q: expected integer, got %T", f.Key, v)
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("config key %q: expected bool, got %T", f.Key, v)
		}
	case FieldSelect:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("config key %q: expected string, got %T", f.Key, v)
		}
		for _, opt := range f.Options {
			if s == opt {
				return nil
			}
		}
		return fmt.Errorf("config key %q: %q is not one of %v", f.Key, s, f.Options)
	default:
		return fmt.Errorf("config key %q: unknown field type %q", f.Key, f.Type)
	}
	return nil
}
