package bigraph

import (
	"regexp"
	"strconv"

	"github.com/beevik/etree"

	"github.com/haivivi/bigrid/pkg/coord"
)

// DefaultPreferredPort is the port ordinal the grid generator links the
// coordinate outer name to.
const DefaultPreferredPort = 4

// NoPreferredPort disables the preferred port and always takes the first port
// that carries a bLink.
const NoPreferredPort = -1

var linkPattern = regexp.MustCompile(TagOuterNames + `\.(\d+)`)

// PortRef is a Locale port resolved to a coordinate.
type PortRef struct {
	Index     int         `json:"index" yaml:"index"`
	Point     coord.Point `json:"point" yaml:"point"`
	OuterName string      `json:"outer_name" yaml:"outer_name"`
	Link      string      `json:"link" yaml:"link"`
	PortIndex int         `json:"port_index" yaml:"port_index"`
}

// ResolvePort picks a port of locale and decodes the outer name it links to.
//
// The port at ordinal preferred is used when it exists, otherwise the first
// port with a bLink attribute. A nil PortRef with a nil error means the Locale
// has no usable reference (no ports, no link, an unmatched link, or an index
// outside names) and should be skipped. An error is returned only when the
// referenced name is not a valid coordinate; it is a *CoordinateError.
func ResolvePort(locale *etree.Element, names OuterNames, preferred int) (*PortRef, error) {
	ports := descendants(locale, TagPorts)
	if len(ports) == 0 {
		return nil, nil
	}

	chosen := -1
	if preferred >= 0 && preferred < len(ports) {
		chosen = preferred
	} else {
		for i, p := range ports {
			if _, ok := attr(p, AttrLink); ok {
				chosen = i
				break
			}
		}
	}
	if chosen < 0 {
		return nil, nil
	}

	link, _ := attr(ports[chosen], AttrLink)
	m := linkPattern.FindStringSubmatch(link)
	if m == nil {
		return nil, nil
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		// Only overflow gets here; such an index is out of bounds anyway.
		return nil, nil
	}
	name, ok := names.Lookup(idx)
	if !ok {
		return nil, nil
	}

	pt, err := coord.Decode(name)
	if err != nil {
		localeName, _ := attr(locale, AttrName)
		return nil, &CoordinateError{Locale: localeName, Index: idx, Text: name, Err: err}
	}
	return &PortRef{
		Index:     idx,
		Point:     pt,
		OuterName: name,
		Link:      link,
		PortIndex: chosen,
	}, nil
}
