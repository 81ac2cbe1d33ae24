// Package coord implements the compact text encoding used by bigraph grid
// models to carry a 2D coordinate inside a name.
//
// A coordinate is written as
//
//	C_<x>__<y>
//
// where each part is a decimal number with 'N' standing in for the minus sign
// and '_' standing in for the decimal point:
//
//	C_1_5__N0_25  ->  (1.5, -0.25)
//	C_0__0        ->  (0, 0)
package coord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// Marker is the literal prefix of every encoded coordinate.
	Marker = "C_"

	// Separator divides the X part from the Y part.
	Separator = "__"

	minusChar = 'N'
	pointChar = '_'
)

// ErrFormat is the sentinel wrapped by every FormatError.
var ErrFormat = errors.New("coord: invalid format")

// FormatError reports a string that does not follow the coordinate grammar.
type FormatError struct {
	Text   string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coord: invalid format %q: %s: %v", e.Text, e.Reason, e.Err)
	}
	return fmt.Sprintf("coord: invalid format %q: %s", e.Text, e.Reason)
}

func (e *FormatError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrFormat, e.Err}
	}
	return []error{ErrFormat}
}

// Point is a decoded 2D coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Decode parses an encoded coordinate. It never returns a non-finite point.
func Decode(s string) (Point, error) {
	rest, ok := strings.CutPrefix(s, Marker)
	if !ok {
		return Point{}, &FormatError{Text: s, Reason: "missing marker " + Marker}
	}
	switch strings.Count(rest, Separator) {
	case 0:
		return Point{}, &FormatError{Text: s, Reason: "missing separator " + Separator}
	case 1:
	default:
		return Point{}, &FormatError{Text: s, Reason: "more than one separator"}
	}
	xs, ys, _ := strings.Cut(rest, Separator)

	x, err := decodePart(xs)
	if err != nil {
		return Point{}, &FormatError{Text: s, Reason: "bad x part", Err: err}
	}
	y, err := decodePart(ys)
	if err != nil {
		return Point{}, &FormatError{Text: s, Reason: "bad y part", Err: err}
	}
	return Point{X: x, Y: y}, nil
}

// MustDecode is like Decode but panics on error. Intended for tests and
// constants.
func MustDecode(s string) Point {
	p, err := Decode(s)
	if err != nil {
		panic(err)
	}
	return p
}

func decodePart(part string) (float64, error) {
	if part == "" {
		return 0, errors.New("empty")
	}
	var b strings.Builder
	b.Grow(len(part))
	for _, r := range part {
		switch {
		case r == minusChar:
			b.WriteByte('-')
		case r == pointChar:
			b.WriteByte('.')
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			return 0, fmt.Errorf("unexpected character %q", r)
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("not finite")
	}
	return v, nil
}

// Encode renders p in the compact coordinate form. Non-finite components are
// rejected since they cannot be decoded again.
func Encode(p Point) (string, error) {
	xs, err := encodePart(p.X)
	if err != nil {
		return "", fmt.Errorf("coord: encode x: %w", err)
	}
	ys, err := encodePart(p.Y)
	if err != nil {
		return "", fmt.Errorf("coord: encode y: %w", err)
	}
	return Marker + xs + Separator + ys, nil
}

func encodePart(v float64) (string, error) {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "", fmt.Errorf("%v is not finite", v)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	s = strings.ReplaceAll(s, "-", string(minusChar))
	return strings.ReplaceAll(s, ".", string(pointChar)), nil
}
