package core

import (
	"encoding/json"
	"fmt"
)

// JSONEncode marshals v. A nil v is rejected with CodeInvalidInput.
func JSONEncode(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "nothing to encode"}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// JSONDecode unmarshals data into target. Empty input and a nil target are
// rejected with CodeInvalidInput, so callers can tell a blank document from
// a malformed one.
func JSONDecode(data []byte, target interface{}) error {
	switch {
	case len(data) == 0:
		return &Error{Code: CodeInvalidInput, Message: "empty JSON document"}
	case target == nil:
		return &Error{Code: CodeInvalidInput, Message: "nil decode target"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode into %T: %w", target, err)
	}
	return nil
}
