package registry

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID  = errors.New("duplicate requirement id")
	ErrMalformed    = errors.New("malformed requirement file")
	ErrInvalidField = errors.New("invalid requirement field")
)

// IntegrityError reports a requirement registry that cannot be trusted.
// Every IntegrityError aborts the invocation.
type IntegrityError struct {
	Kind error
	File string
	Msg  string
}

func (e *IntegrityError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.File != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.File, e.Msg)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	}
	return e.Kind.Error()
}

func (e *IntegrityError) Unwrap() error { return e.Kind }

func malformedf(file, format string, args ...any) error {
	return &IntegrityError{Kind: ErrMalformed, File: file, Msg: fmt.Sprintf(format, args...)}
}

func invalidf(file, format string, args ...any) error {
	return &IntegrityError{Kind: ErrInvalidField, File: file, Msg: fmt.Sprintf(format, args...)}
}

func duplicateError(id, first, second string) error {
	return &IntegrityError{
		Kind: ErrDuplicateID,
		Msg:  fmt.Sprintf("Duplicate requirement id '%s' in %s and %s", id, first, second),
	}
}
