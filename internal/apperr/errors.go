// Package apperr defines the error kinds shared by drivers and managers.
package apperr

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrNotAuthenticated = errors.New("not signed in")
	ErrUploadFailed     = errors.New("upload failed")
	ErrCreateFailed     = errors.New("create entry failed")
	ErrDeleteFailed     = errors.New("delete entry failed")
	ErrResolution       = errors.New("attachment unavailable")
	ErrMalformedImport  = errors.New("malformed import record")
	ErrInvalidImport    = errors.New("import document must be a JSON array")
)

// ErrEmptyEntry is returned when a save carries neither text nor a file.
var ErrEmptyEntry = &Error{Kind: ErrValidation, Message: "Nothing to save: add text or attach a file."}

// Error carries a kind plus the message to show the user, usually the
// backend's own text.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind, keeping err's text as the message.
// A nil err yields the bare kind.
func Wrap(kind, err error) error {
	if err == nil {
		return &Error{Kind: kind}
	}
	var ae *Error
	if errors.As(err, &ae) && errors.Is(err, kind) {
		return err
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// Message returns the user-facing text of err.
func Message(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return err.Error()
}
