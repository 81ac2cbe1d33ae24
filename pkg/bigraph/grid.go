package bigraph

import (
	"fmt"
	"io"
	"strconv"

	"github.com/beevik/etree"

	"github.com/haivivi/bigrid/pkg/coord"
)

// GridSpec describes a rectangular grid of Locales.
type GridSpec struct {
	Rows    int     `json:"rows" yaml:"rows"`
	Cols    int     `json:"cols" yaml:"cols"`
	StepX   float64 `json:"step_x" yaml:"step_x"`
	StepY   float64 `json:"step_y" yaml:"step_y"`
	OriginX float64 `json:"origin_x" yaml:"origin_x"`
	OriginY float64 `json:"origin_y" yaml:"origin_y"`

	// MultiRoot puts every Locale under its own bRoots element.
	MultiRoot bool `json:"multi_root" yaml:"multi_root"`
}

// DefaultGrid is a 5x5 grid with a 0.5 step.
func DefaultGrid() GridSpec {
	return GridSpec{Rows: 5, Cols: 5, StepX: 0.5, StepY: 0.5}
}

// gridPorts is the number of ports on every generated Locale. The coordinate
// link sits on DefaultPreferredPort.
const gridPorts = DefaultPreferredPort + 1

// Points returns the grid coordinates in Locale order (row-major).
func (g GridSpec) Points() []coord.Point {
	pts := make([]coord.Point, 0, max(g.Rows*g.Cols, 0))
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Cols; c++ {
			pts = append(pts, coord.Point{
				X: g.OriginX + float64(r)*g.StepX,
				Y: g.OriginY + float64(c)*g.StepY,
			})
		}
	}
	return pts
}

// NewGridDocument builds an XMI document for g. Every Locale carries both
// encodings: port DefaultPreferredPort links to an outer name holding the
// coordinate, and a CO child holds it in its nested type name.
func NewGridDocument(g GridSpec) (*etree.Document, error) {
	if g.Rows < 0 || g.Cols < 0 {
		return nil, fmt.Errorf("bigraph: invalid grid %dx%d", g.Rows, g.Cols)
	}
	pts := g.Points()
	encoded := make([]string, len(pts))
	for i, p := range pts {
		s, err := coord.Encode(p)
		if err != nil {
			return nil, fmt.Errorf("bigraph: cell %d: %w", i, err)
		}
		encoded[i] = s
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	top := doc.CreateElement("bigraphBaseModel:BBigraph")
	top.CreateAttr("xmi:version", "2.0")
	top.CreateAttr("xmlns:xmi", NamespaceXMI)
	top.CreateAttr("xmlns:xsi", NamespaceXSI)
	top.CreateAttr("xmlns:bigraphBaseModel", NamespaceModel)

	var root *etree.Element
	roots, node := 0, 0
	for i, enc := range encoded {
		if root == nil || g.MultiRoot {
			root = top.CreateElement(TagRoots)
			root.CreateAttr("index", strconv.Itoa(roots))
			roots++
		}
		locale := root.CreateElement(TagChild)
		locale.CreateAttr("xsi:type", LocaleType)
		locale.CreateAttr(AttrName, "v"+strconv.Itoa(node))
		node++
		for p := 0; p < gridPorts; p++ {
			port := locale.CreateElement(TagPorts)
			port.CreateAttr("index", strconv.Itoa(p))
			if p == DefaultPreferredPort {
				port.CreateAttr(AttrLink, "//@"+TagOuterNames+"."+strconv.Itoa(i))
			}
		}
		co := locale.CreateElement(TagChild)
		co.CreateAttr("xsi:type", COType)
		co.CreateAttr(AttrName, "v"+strconv.Itoa(node))
		node++
		value := co.CreateElement(TagChild)
		value.CreateAttr("xsi:type", "bigraphBaseModel:"+enc)
		value.CreateAttr(AttrName, "v"+strconv.Itoa(node))
		node++
	}
	for _, enc := range encoded {
		top.CreateElement(TagOuterNames).CreateAttr(AttrName, enc)
	}
	doc.Indent(2)
	return doc, nil
}

// WriteGrid writes the XMI document for g to w.
func WriteGrid(w io.Writer, g GridSpec) error {
	doc, err := NewGridDocument(g)
	if err != nil {
		return err
	}
	_, err = doc.WriteTo(w)
	return err
}
