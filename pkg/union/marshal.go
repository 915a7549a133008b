package union

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Marshal marshals the provided union type into a JSON byte array. The active
// variant's fields are flattened into the object alongside the non-union
// fields, and the discriminator key is set to the active variant's tag value.
func Marshal(v interface{}) ([]byte, error) {
	value := reflect.ValueOf(v)
	for value.Kind() == reflect.Ptr {
		value = value.Elem()
	}
	unionTypes, err := parseUnionTypes(value.Type())
	if err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage)
	if err := marshalCommonFields(value, merged); err != nil {
		return nil, err
	}

	for key, fields := range unionTypes {
		for tagValue, field := range fields {
			fieldVal := value.Field(field.index)
			if fieldVal.IsNil() {
				continue
			}

			variant, err := json.Marshal(fieldVal.Interface())
			if err != nil {
				return nil, err
			}
			variantFields := make(map[string]json.RawMessage)
			if err := json.Unmarshal(variant, &variantFields); err != nil {
				return nil, err
			}
			for k, v := range variantFields {
				if _, ok := merged[k]; ok {
					return nil, errors.Errorf("union variant field %q collides", k)
				}
				merged[k] = v
			}

			tag, err := json.Marshal(tagValue)
			if err != nil {
				return nil, err
			}
			merged[key] = tag
		}
	}

	return json.Marshal(merged)
}

// marshalCommonFields serializes the non-union fields one by one. The union
// type itself usually implements json.Marshaler in terms of Marshal, so the
// struct as a whole must never be handed back to encoding/json.
func marshalCommonFields(value reflect.Value, merged map[string]json.RawMessage) error {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if _, ok := field.Tag.Lookup(unionTag); ok {
			continue
		}
		if !field.IsExported() {
			continue
		}

		name := field.Name
		omitempty := false
		if jsonTag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(jsonTag, ",")
			if parts[0] == "-" && len(parts) == 1 {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt != "omitempty" {
					return errors.Errorf("json tag features not supported by union types: %q", opt)
				}
				omitempty = true
			}
		}

		fieldVal := value.Field(i)
		if omitempty && fieldVal.IsZero() {
			continue
		}
		b, err := json.Marshal(fieldVal.Interface())
		if err != nil {
			return err
		}
		merged[name] = b
	}
	return nil
}
