package bigraph

import (
	"github.com/beevik/etree"
)

// OuterName is one bOuterNames declaration. Declared is false when the
// element had no name attribute.
type OuterName struct {
	Name     string
	Declared bool
}

// OuterNames is the outer name table of a document. The slice index is the
// declaration order, which is what "//@bOuterNames.<n>" references point at.
type OuterNames []OuterName

// CollectOuterNames scans the whole tree below el for bOuterNames elements,
// regardless of namespace prefix, in document order.
func CollectOuterNames(el *etree.Element) OuterNames {
	elems := descendants(el, TagOuterNames)
	names := make(OuterNames, 0, len(elems))
	for _, e := range elems {
		name, ok := attr(e, AttrName)
		names = append(names, OuterName{Name: name, Declared: ok})
	}
	return names
}

// Lookup returns the name at index i. ok is false when i is out of bounds or
// the declaration carried no name.
func (ns OuterNames) Lookup(i int) (name string, ok bool) {
	if i < 0 || i >= len(ns) || !ns[i].Declared {
		return "", false
	}
	return ns[i].Name, true
}

// Strings returns the names in order, absent names as "".
func (ns OuterNames) Strings() []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Name
	}
	return out
}
