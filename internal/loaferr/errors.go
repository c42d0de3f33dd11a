// Package loaferr defines the closed set of error kinds the runtime
// surfaces to callers, independent of the transport that carries them.
package loaferr

import "fmt"

// Kind is a closed enum of error categories the runtime distinguishes.
type Kind string

const (
	InvalidInput    Kind = "invalid_input"
	NotFound        Kind = "not_found"
	Unsupported     Kind = "unsupported"
	Timeout         Kind = "timeout"
	Aborted         Kind = "aborted"
	ChildFailure    Kind = "child_failure"
	EnvUnavailable  Kind = "env_unavailable"
	PatchParseError Kind = "patch_parse_error"
	PatchMatchError Kind = "patch_match_error"
	StorageError    Kind = "storage_error"
)

// Error is the runtime's structured error type. Path and Line are populated
// only by the patch parser and applier, including the storage errors the
// applier raises for a named file.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Line    int
	Err     error
}

func (e *Error) Error() string {
	if e.Path != "" && e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d, %s)", e.Kind, e.Message, e.Line, e.Path)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Path)
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Kind, e.Message, e.Line)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind, allowing
// errors.Is(err, loaferr.New(loaferr.NotFound, "")) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithPath attaches path/line context to a patch error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) WithLine(line int) *Error {
	e.Line = line
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to the zero Kind if not.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if asError(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
