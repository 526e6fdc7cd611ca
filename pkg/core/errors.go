package core

// Error codes carried by Error.
const (
	CodeInvalidInput = "INVALID_INPUT"
)

// Error is a coded error for input a caller can fix.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
