// Package union implements JSON (de)serialization for tagged union types. A
// union is a struct with one pointer field per variant, each carrying a
// `union:"key,value"` struct tag naming the discriminator key and the value
// that selects the variant. Variant fields must also carry `json:"-"` so that
// plain encoding/json passes over them; non-union fields are (de)serialized
// normally.
package union

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

const unionTag = "union"

type unionField struct {
	index int
	field reflect.StructField
}

// parseUnionStructTag parses the "union" struct tag. The format of the struct
// tag is "key,value" where key is the common discriminator key for all the
// variants and value is the name of this field's variant.
func parseUnionStructTag(tagValue string) (string, string, error) {
	switch parsed := strings.Split(tagValue, ","); {
	case len(parsed) == 2:
		return parsed[0], parsed[1], nil
	default:
		return "", "", errors.Errorf("unexpected union tag format: %s", tagValue)
	}
}

// parseUnionTypes maps every discriminator key of the struct type to the
// variants it selects between.
func parseUnionTypes(elem reflect.Type) (map[string]map[string]unionField, error) {
	unionTypes := make(map[string]map[string]unionField)
	for i := 0; i < elem.NumField(); i++ {
		field := elem.Field(i)
		tagValue, ok := field.Tag.Lookup(unionTag)
		if !ok {
			continue
		}
		if field.Type.Kind() != reflect.Ptr || field.Type.Elem().Kind() != reflect.Struct {
			return nil, errors.Errorf("union field %s must be a struct pointer", field.Name)
		}

		key, value, err := parseUnionStructTag(tagValue)
		if err != nil {
			return nil, err
		}
		if _, ok := unionTypes[key]; !ok {
			unionTypes[key] = make(map[string]unionField)
		}
		if _, ok := unionTypes[key][value]; ok {
			return nil, errors.Errorf("duplicate union tag value: %s", value)
		}
		unionTypes[key][value] = unionField{index: i, field: field}
	}
	return unionTypes, nil
}

// getTagValue returns the variant name (keyed by the tag field) defined in the
// data bytes. If no key is defined, the second result returns false. If input
// data is not a JSON object or the tag value is not a string, an error is
// returned.
func getTagValue(data []byte, tag string) (string, bool, error) {
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, err
	}

	tagValue, ok := parsed[tag]
	if !ok {
		return "", false, nil
	}

	typed, ok := tagValue.(string)
	if !ok {
		return "", false, errors.Errorf("%s must be a string: got %T", tag, tagValue)
	}
	return typed, true, nil
}
