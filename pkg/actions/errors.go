package actions

import (
	"errors"
)

var (
	// ErrTargetNotFound is returned when neither selector nor point
	// resolves to an element.
	ErrTargetNotFound = errors.New("actions: target not found")

	// ErrSensitiveField is returned when typing into a password or
	// one-time-code field.
	ErrSensitiveField = errors.New("actions: typing into sensitive fields is blocked")

	// ErrNotEditable is returned when the type target accepts no text.
	ErrNotEditable = errors.New("actions: target is not editable")

	// ErrMissingKey is returned when press_key has no key.
	ErrMissingKey = errors.New("actions: missing key to press")

	// ErrUnsupportedTool is returned for tools the page side does not run.
	ErrUnsupportedTool = errors.New("actions: unsupported tool")
)

var codes = []struct {
	code string
	err  error
}{
	{"target_not_found", ErrTargetNotFound},
	{"sensitive_field", ErrSensitiveField},
	{"not_editable", ErrNotEditable},
	{"missing_key", ErrMissingKey},
	{"unsupported_tool", ErrUnsupportedTool},
}

// ErrorCode returns a stable code for err's kind, or "" for errors that
// are not action failures.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrorFromCode rebuilds an error that wraps the sentinel named by code.
// Unknown codes yield a plain error carrying msg.
func ErrorFromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			if msg == "" || msg == c.err.Error() {
				return c.err
			}
			return &codedError{msg: msg, err: c.err}
		}
	}
	return errors.New(msg)
}

type codedError struct {
	msg string
	err error
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Unwrap() error { return e.err }
