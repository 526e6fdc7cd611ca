// Package failfast turns programmer errors into immediate panics.
// Recovered values are always *Violation.
package failfast

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// Violation is the value every failfast panic carries.
type Violation struct {
	Msg   string
	Cause error
	Stack []byte
}

func (v *Violation) Error() string {
	if v.Cause != nil {
		return "fail-fast: " + v.Msg + ": " + v.Cause.Error()
	}
	return "fail-fast: " + v.Msg
}

func (v *Violation) Unwrap() error { return v.Cause }

// Err panics if err != nil, capturing the stack.
func Err(err error) {
	if err != nil {
		panic(&Violation{Msg: "unexpected error", Cause: err, Stack: debug.Stack()})
	}
}

// If panics with the formatted message if condition is false.
func If(condition bool, format string, args ...interface{}) {
	if !condition {
		panic(&Violation{Msg: fmt.Sprintf(format, args...)})
	}
}

// NotNil panics if v is nil, including typed nil pointers, maps, funcs,
// channels and interfaces.
func NotNil(v interface{}, name string) {
	if isNil(v) {
		panic(&Violation{Msg: name + " is nil"})
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
