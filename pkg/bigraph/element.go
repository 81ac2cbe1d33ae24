package bigraph

import (
	"github.com/beevik/etree"
)

// Element local names and type markers used by the model export.
const (
	TagRoots      = "bRoots"
	TagChild      = "bChild"
	TagPorts      = "bPorts"
	TagOuterNames = "bOuterNames"

	AttrName = "name"
	AttrLink = "bLink"
	AttrType = "type"

	LocaleType = "bigraphBaseModel:Locale"
	COType     = "bigraphBaseModel:CO"
)

// Namespaces declared on a model export.
const (
	NamespaceModel = "http://org.bigraphs.model"
	NamespaceXMI   = "http://www.omg.org/XMI"
	NamespaceXSI   = "http://www.w3.org/2001/XMLSchema-instance"
)

// descendants returns every element below el whose local name is tag, in
// document order. Prefixes are ignored.
func descendants(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, c := range e.ChildElements() {
			if c.Tag == tag {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(el)
	return out
}

// attr looks up an unprefixed attribute.
func attr(el *etree.Element, key string) (string, bool) {
	for _, a := range el.Attr {
		if a.Space == "" && a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// typeName returns the xsi:type of el. Exports are not consistent about the
// prefix bound to the schema-instance namespace, so any prefixed "type"
// attribute is accepted when xsi:type is absent.
func typeName(el *etree.Element) string {
	var fallback string
	for _, a := range el.Attr {
		if a.Key != AttrType || a.Space == "" {
			continue
		}
		if a.Space == "xsi" {
			return a.Value
		}
		if fallback == "" {
			fallback = a.Value
		}
	}
	return fallback
}
