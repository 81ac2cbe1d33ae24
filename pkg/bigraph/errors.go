package bigraph

import (
	"errors"
	"fmt"
)

// ErrMalformed is wrapped by every StructureError.
var ErrMalformed = errors.New("bigraph: malformed document")

// ErrNoRoots is returned when the document carries no bRoots element.
var ErrNoRoots = &StructureError{Element: "bRoots", Reason: "no root set element"}

// StructureError reports a document whose element structure cannot be
// interpreted.
type StructureError struct {
	Element string
	Reason  string
	Err     error
}

func (e *StructureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bigraph: malformed document: %s: %s: %v", e.Element, e.Reason, e.Err)
	}
	return fmt.Sprintf("bigraph: malformed document: %s: %s", e.Element, e.Reason)
}

func (e *StructureError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformed, e.Err}
	}
	return []error{ErrMalformed}
}

// CoordinateError reports a coordinate that could not be recovered for a
// Locale. Index is the outer name index in link mode and the cell ordinal the
// coordinate would have received in CO mode.
type CoordinateError struct {
	Locale string
	Index  int
	Text   string
	Err    error
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("bigraph: locale %q: coordinate #%d %q: %v", e.Locale, e.Index, e.Text, e.Err)
}

func (e *CoordinateError) Unwrap() error {
	return e.Err
}
