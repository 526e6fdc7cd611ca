package failfast

import (
	"errors"
	"testing"
)

func catch(t *testing.T, fn func()) (v *Violation) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var ok bool
		if v, ok = r.(*Violation); !ok {
			t.Fatalf("recovered %T, want *Violation", r)
		}
	}()
	fn()
	return nil
}

func TestErr(t *testing.T) {
	if v := catch(t, func() { Err(nil) }); v != nil {
		t.Errorf("Err(nil) panicked: %v", v)
	}

	cause := errors.New("test error")
	v := catch(t, func() { Err(cause) })
	if v == nil {
		t.Fatal("Err() did not panic")
	}
	if !errors.Is(v, cause) {
		t.Error("violation should unwrap to the cause")
	}
	if len(v.Stack) == 0 {
		t.Error("violation should carry a stack")
	}
}

func TestIf(t *testing.T) {
	if v := catch(t, func() { If(true, "should not panic") }); v != nil {
		t.Errorf("If(true) panicked: %v", v)
	}

	v := catch(t, func() { If(false, "value is %d", 42) })
	if v == nil {
		t.Fatal("If(false) did not panic")
	}
	if want := "fail-fast: value is 42"; v.Error() != want {
		t.Errorf("Error() = %q, want %q", v.Error(), want)
	}
}

func TestNotNil(t *testing.T) {
	val := "test"
	var nilPtr *string
	var nilMap map[string]int
	var nilFunc func()
	var nilIface interface{}

	tests := []struct {
		name      string
		value     interface{}
		wantPanic bool
	}{
		{"pointer", &val, false},
		{"value", 3, false},
		{"nil pointer", nilPtr, true},
		{"nil map", nilMap, true},
		{"nil func", nilFunc, true},
		{"nil interface", nilIface, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := catch(t, func() { NotNil(tt.value, "ptr") })
			if (v != nil) != tt.wantPanic {
				t.Fatalf("panic = %v, want %v", v, tt.wantPanic)
			}
			if v != nil && v.Error() != "fail-fast: ptr is nil" {
				t.Errorf("Error() = %q", v.Error())
			}
		})
	}
}
