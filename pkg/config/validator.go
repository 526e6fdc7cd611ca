package config

import (
	"fmt"
	"reflect"
	"strings"
)

// RequiredFields validates that the named fields are not zero.
// Nested fields use dot notation (e.g. "NATS.SubjectPrefix").
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, name := range fields {
			fieldVal, err := lookup(config, name)
			if err != nil {
				return err
			}
			if fieldVal.IsZero() {
				missing = append(missing, name)
			}
		}

		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator validates that a numeric field lies in [min, max].
// time.Duration fields compare in nanoseconds.
func RangeValidator(fieldName string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}

		var numVal float64
		switch fieldVal.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			numVal = float64(fieldVal.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			numVal = float64(fieldVal.Uint())
		case reflect.Float32, reflect.Float64:
			numVal = fieldVal.Float()
		default:
			return fmt.Errorf("field %s is not numeric", fieldName)
		}

		if numVal < min || numVal > max {
			return fmt.Errorf("field %s value %v is out of range [%v, %v]", fieldName, numVal, min, max)
		}
		return nil
	})
}

// OneOfValidator validates that a field equals one of the allowed values.
func OneOfValidator(fieldName string, allowedValues ...interface{}) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fieldVal, err := lookup(config, fieldName)
		if err != nil {
			return err
		}

		got := fieldVal.Interface()
		for _, allowed := range allowedValues {
			if reflect.DeepEqual(got, allowed) {
				return nil
			}
		}
		return fmt.Errorf("field %s value %v is not one of %v", fieldName, got, allowedValues)
	})
}

// When applies v only if cond holds for the config.
func When(cond func(config interface{}) bool, v Validator) Validator {
	return ValidatorFunc(func(config interface{}) error {
		if !cond(config) {
			return nil
		}
		return v.Validate(config)
	})
}

func lookup(config interface{}, path string) (reflect.Value, error) {
	current := reflect.ValueOf(config)
	for _, part := range strings.Split(path, ".") {
		for current.Kind() == reflect.Ptr {
			if current.IsNil() {
				return reflect.Value{}, fmt.Errorf("field %s not found", path)
			}
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s not found", path)
		}
		current = current.FieldByName(part)
		if !current.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found", path)
		}
	}
	return current, nil
}
