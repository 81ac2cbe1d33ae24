package bigraph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/beevik/etree"

	"github.com/haivivi/bigrid/pkg/coord"
)

// Layout selects how Locales are located below the root set.
type Layout int

const (
	// MultiRoot inspects every bRoots element. Each root contributes only its
	// first bChild unless Options.ScanAllChildren is set.
	MultiRoot Layout = iota

	// SingleRoot inspects every bChild of the first bRoots element.
	SingleRoot
)

func (l Layout) String() string {
	switch l {
	case MultiRoot:
		return "multi"
	case SingleRoot:
		return "single"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// ParseLayout parses "multi" or "single".
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "multi", "multi-root", "":
		return MultiRoot, nil
	case "single", "single-root":
		return SingleRoot, nil
	default:
		return 0, fmt.Errorf("bigraph: unknown layout %q", s)
	}
}

// Options controls a parse call.
type Options struct {
	Layout Layout

	// CoordinatesAsLinks reads coordinates from the outer names referenced by
	// Locale ports. When false, coordinates are read from CO-typed children.
	CoordinatesAsLinks bool

	// PreferredPort is the port ordinal tried first in link mode. Use
	// NoPreferredPort to always take the first linked port.
	PreferredPort int

	// ScanAllChildren makes MultiRoot inspect every bChild of each root
	// instead of only the first.
	ScanAllChildren bool

	// BestEffort skips Locales with malformed coordinates and reports them in
	// Result.Errors instead of failing the whole parse.
	BestEffort bool
}

// DefaultOptions returns the options used by the grid generator: link mode
// with DefaultPreferredPort.
func DefaultOptions(layout Layout) Options {
	return Options{
		Layout:             layout,
		CoordinatesAsLinks: true,
		PreferredPort:      DefaultPreferredPort,
	}
}

// Cell is one positioned grid cell.
type Cell struct {
	Index  int         `json:"index" yaml:"index"`
	Locale string      `json:"locale" yaml:"locale"`
	Point  coord.Point `json:"point" yaml:"point"`
}

// Link describes a link between cells.
type Link struct {
	ID        string `json:"id" yaml:"id"`
	OuterName string `json:"outer_name,omitempty" yaml:"outer_name,omitempty"`
	Cells     []int  `json:"cells,omitempty" yaml:"cells,omitempty"`
}

// LinkMap maps a link identifier to its metadata. The parser does not derive
// links yet and always returns an empty map.
type LinkMap map[string]Link

// Result is the outcome of a parse call.
type Result struct {
	Cells []Cell  `json:"cells" yaml:"cells"`
	Links LinkMap `json:"links" yaml:"links"`

	// Errors holds the skipped coordinates of a BestEffort parse.
	Errors []error `json:"-" yaml:"-"`
}

// Err joins the errors of a BestEffort parse, or returns nil.
func (r *Result) Err() error {
	return errors.Join(r.Errors...)
}

// Parse reads an XMI document from r.
//
// Unless opts.BestEffort is set, the first malformed coordinate aborts the
// parse and no cells are returned.
func Parse(r io.Reader, opts Options) (*Result, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, &StructureError{Element: "document", Reason: "unreadable XML", Err: err}
	}
	return ParseDocument(doc, opts)
}

// ParseBytes is like Parse for an in-memory document.
func ParseBytes(b []byte, opts Options) (*Result, error) {
	return Parse(bytes.NewReader(b), opts)
}

// ParseMultiRoot parses a multi-root export with the default port policy.
func ParseMultiRoot(r io.Reader, coordinatesAsLinks bool) (*Result, error) {
	opts := DefaultOptions(MultiRoot)
	opts.CoordinatesAsLinks = coordinatesAsLinks
	return Parse(r, opts)
}

// ParseSingleRoot parses a single-root export with the default port policy.
func ParseSingleRoot(r io.Reader, coordinatesAsLinks bool) (*Result, error) {
	opts := DefaultOptions(SingleRoot)
	opts.CoordinatesAsLinks = coordinatesAsLinks
	return Parse(r, opts)
}

// ParseDocument extracts cells from an already parsed document.
func ParseDocument(doc *etree.Document, opts Options) (*Result, error) {
	roots := descendants(&doc.Element, TagRoots)
	if len(roots) == 0 {
		return nil, ErrNoRoots
	}

	p := &parser{
		opts:  opts,
		names: CollectOuterNames(&doc.Element),
		res:   &Result{Cells: []Cell{}, Links: LinkMap{}},
	}
	slog.Debug("bigraph: parsing",
		"layout", opts.Layout,
		"roots", len(roots),
		"outer_names", len(p.names),
		"links", opts.CoordinatesAsLinks,
	)

	switch opts.Layout {
	case MultiRoot:
		for i, root := range roots {
			children := descendants(root, TagChild)
			if len(children) == 0 {
				slog.Debug("bigraph: root without children", "root", i)
				continue
			}
			if !opts.ScanAllChildren {
				children = children[:1]
			}
			for _, c := range children {
				if err := p.visit(c); err != nil {
					return nil, err
				}
			}
		}
	case SingleRoot:
		for _, c := range descendants(roots[0], TagChild) {
			if err := p.visit(c); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("bigraph: unknown layout %v", opts.Layout)
	}
	return p.res, nil
}

type parser struct {
	opts  Options
	names OuterNames
	res   *Result
	seq   int
}

// visit handles one bChild candidate. Only Locales contribute cells.
func (p *parser) visit(el *etree.Element) error {
	if !strings.Contains(typeName(el), LocaleType) {
		return nil
	}
	locale, _ := attr(el, AttrName)

	if p.opts.CoordinatesAsLinks {
		ref, err := ResolvePort(el, p.names, p.opts.PreferredPort)
		if err != nil {
			return p.fail(err)
		}
		if ref != nil {
			p.res.Cells = append(p.res.Cells, Cell{Index: ref.Index, Locale: locale, Point: ref.Point})
		}
		return nil
	}

	for _, child := range descendants(el, TagChild) {
		if !strings.Contains(typeName(child), COType) {
			continue
		}
		pt, text, err := coNodePoint(child)
		var se *StructureError
		if errors.As(err, &se) {
			return se
		}
		if err != nil {
			if err := p.fail(&CoordinateError{Locale: locale, Index: p.seq, Text: text, Err: err}); err != nil {
				return err
			}
			continue
		}
		p.res.Cells = append(p.res.Cells, Cell{Index: p.seq, Locale: locale, Point: pt})
		p.seq++
	}
	return nil
}

// fail either aborts the parse or records err, depending on BestEffort.
// Structural errors never reach it.
func (p *parser) fail(err error) error {
	if !p.opts.BestEffort {
		return err
	}
	slog.Warn("bigraph: skipping malformed coordinate", "error", err)
	p.res.Errors = append(p.res.Errors, err)
	return nil
}

// coNodePoint decodes the coordinate carried by the type name of the first
// node nested below a CO child.
func coNodePoint(co *etree.Element) (coord.Point, string, error) {
	nested := descendants(co, TagChild)
	if len(nested) == 0 {
		return coord.Point{}, "", &StructureError{Element: TagChild, Reason: "CO node without coordinate child"}
	}
	parts := strings.Split(typeName(nested[0]), ":")
	var text string
	if len(parts) > 1 {
		text = parts[1]
	}
	pt, err := coord.Decode(text)
	return pt, text, err
}
