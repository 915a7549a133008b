package union

import (
	"encoding/json"
	"reflect"
)

// Unmarshal unmarshals the provided union type from a JSON byte array. Decoding
// is forward-compatible: a discriminator value that matches no declared variant
// leaves every variant field nil rather than failing, and unknown fields are
// ignored. Callers that must reject unrecognized variants should check that one
// variant is set after decoding.
func Unmarshal(data []byte, v interface{}) error {
	value := reflect.ValueOf(v)
	unionTypes, err := parseUnionTypes(value.Type().Elem())
	if err != nil {
		return err
	}

	for key, fields := range unionTypes {
		tagValue, ok, err := getTagValue(data, key)
		if err != nil {
			return err
		} else if !ok {
			continue
		}
		field, ok := fields[tagValue]
		if !ok {
			// Unknown variant; leave the union empty.
			continue
		}

		if fieldVal := value.Elem().Field(field.index); !fieldVal.IsNil() {
			if err := json.Unmarshal(data, fieldVal.Interface()); err != nil {
				return err
			}
		} else {
			nested := reflect.New(field.field.Type.Elem())
			if err := json.Unmarshal(data, nested.Interface()); err != nil {
				return err
			}
			fieldVal.Set(nested)
		}

		for _, other := range fields {
			if other.index == field.index {
				continue
			}
			value.Elem().Field(other.index).Set(reflect.Zero(other.field.Type))
		}
	}
	return nil
}
