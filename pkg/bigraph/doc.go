// Package bigraph recovers a grid of positioned cells from a bigraph XMI
// model export.
//
// The exports come from an EMF based bigraph modelling tool. Coordinates are
// not stored as attributes. Instead they are smuggled in one of two places:
//
//   - as the name of an outer name, referenced from a Locale port through a
//     bLink of the form "//@bOuterNames.<n>" (link mode), or
//   - as the type name suffix of a node nested below a CO-typed child of the
//     Locale, e.g. xsi:type="bigraphBaseModel:C_1_5__N0_25" (CO mode).
//
// Both encodings use the text form implemented by package coord.
//
// # Example
//
//	res, err := bigraph.ParseSingleRoot(f, true)
//	if err != nil {
//	    return err
//	}
//	for _, c := range res.Cells {
//	    fmt.Println(c.Index, c.Locale, c.Point)
//	}
package bigraph
