package addon

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindRegistryParse      Kind = "registry_parse"
	KindInvalidAddon       Kind = "invalid_addon"
	KindUnsupportedVersion Kind = "unsupported_version"
	KindStorageWrite       Kind = "storage_write"
	KindDispatch           Kind = "dispatch"
	KindUnknown            Kind = "unknown"
)

// Error is the terminal failure of an invocation. Its message is shown to the caller.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is comparisons by kind.
var (
	ErrRegistryParse      = &Error{Kind: KindRegistryParse}
	ErrInvalidAddon       = &Error{Kind: KindInvalidAddon}
	ErrUnsupportedVersion = &Error{Kind: KindUnsupportedVersion}
	ErrStorageWrite       = &Error{Kind: KindStorageWrite}
	ErrDispatch           = &Error{Kind: KindDispatch}
	ErrUnknown            = &Error{Kind: KindUnknown}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindRegistryParse, KindInvalidAddon:
		return "Version or package not found or not a valid addon, error details: " + e.detail()
	case KindUnsupportedVersion:
		return e.detail()
	case KindStorageWrite:
		return "Failed to register addon build: " + e.detail()
	case KindDispatch:
		return "Failed to schedule addon build: " + e.detail()
	default:
		return "An unknown error occurred: " + e.detail()
	}
}

func (e *Error) detail() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when target is one of the bare sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Msg != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err means the package could not be resolved as an addon.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindRegistryParse, KindInvalidAddon:
		return err != nil
	default:
		return false
	}
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Err: err}
}
