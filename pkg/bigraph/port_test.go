package bigraph

import (
	"errors"
	"testing"

	"github.com/beevik/etree"

	"github.com/haivivi/bigrid/pkg/coord"
)

func mustElement(t *testing.T, xml string) *etree.Element {
	t.Helper()
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("ReadFromString: %v", err)
	}
	return doc.Root()
}

var testNames = OuterNames{
	{Name: "C_0__0", Declared: true},
	{Name: "C_1__0", Declared: true},
	{Name: "C_2__1", Declared: true},
	{Declared: false},
	{Name: "garbage", Declared: true},
}

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name      string
		xml       string
		preferred int
		want      *PortRef
	}{
		{
			name:      "preferred",
			xml:       `<bChild name="v"><bPorts bLink="//@bOuterNames.0"/><bPorts/><bPorts bLink="//@bOuterNames.2"/></bChild>`,
			preferred: 2,
			want:      &PortRef{Index: 2, Point: coord.Point{X: 2, Y: 1}, OuterName: "C_2__1", Link: "//@bOuterNames.2", PortIndex: 2},
		},
		{
			name:      "fallback to first linked port",
			xml:       `<bChild name="v"><bPorts/><bPorts bLink="//@bOuterNames.1"/><bPorts bLink="//@bOuterNames.2"/></bChild>`,
			preferred: 4,
			want:      &PortRef{Index: 1, Point: coord.Point{X: 1, Y: 0}, OuterName: "C_1__0", Link: "//@bOuterNames.1", PortIndex: 1},
		},
		{
			name:      "no preference",
			xml:       `<bChild name="v"><bPorts/><bPorts bLink="//@bOuterNames.0"/></bChild>`,
			preferred: NoPreferredPort,
			want:      &PortRef{Index: 0, Point: coord.Point{}, OuterName: "C_0__0", Link: "//@bOuterNames.0", PortIndex: 1},
		},
		{
			name:      "preferred port without link",
			xml:       `<bChild name="v"><bPorts bLink="//@bOuterNames.0"/><bPorts/></bChild>`,
			preferred: 1,
		},
		{
			name:      "no ports",
			xml:       `<bChild name="v"/>`,
			preferred: 4,
		},
		{
			name:      "no linked port",
			xml:       `<bChild name="v"><bPorts/><bPorts/></bChild>`,
			preferred: 4,
		},
		{
			name:      "unmatched link",
			xml:       `<bChild name="v"><bPorts bLink="//@bEdges.0"/></bChild>`,
			preferred: 4,
		},
		{
			name:      "out of bounds",
			xml:       `<bChild name="v"><bPorts bLink="//@bOuterNames.9"/></bChild>`,
			preferred: 4,
		},
		{
			name:      "overflowing index",
			xml:       `<bChild name="v"><bPorts bLink="//@bOuterNames.99999999999999999999999"/></bChild>`,
			preferred: 4,
		},
		{
			name:      "absent name",
			xml:       `<bChild name="v"><bPorts bLink="//@bOuterNames.3"/></bChild>`,
			preferred: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePort(mustElement(t, tt.xml), testNames, tt.preferred)
			if err != nil {
				t.Fatalf("ResolvePort() error: %v", err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("ResolvePort() = %+v, want nil", got)
			case tt.want != nil && got == nil:
				t.Errorf("ResolvePort() = nil, want %+v", tt.want)
			case tt.want != nil && *got != *tt.want:
				t.Errorf("ResolvePort() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolvePortMalformedName(t *testing.T) {
	el := mustElement(t, `<bChild name="v9"><bPorts bLink="//@bOuterNames.4"/></bChild>`)
	ref, err := ResolvePort(el, testNames, 4)
	if err == nil {
		t.Fatalf("ResolvePort() = %+v, want error", ref)
	}
	var ce *CoordinateError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not *CoordinateError", err)
	}
	if ce.Locale != "v9" || ce.Index != 4 || ce.Text != "garbage" {
		t.Errorf("CoordinateError = %+v", ce)
	}
	if !errors.Is(err, coord.ErrFormat) {
		t.Errorf("error %v does not wrap coord.ErrFormat", err)
	}
}

func TestCollectOuterNames(t *testing.T) {
	root := mustElement(t, `<x:M xmlns:x="urn:x">
  <x:bOuterNames name="a"/>
  <nested><bOuterNames name="b"/></nested>
  <bOuterNames/>
  <x:bOuterNames name="d"/>
</x:M>`)
	names := CollectOuterNames(root)
	if got := names.Strings(); len(got) != 4 || got[0] != "a" || got[1] != "b" || got[2] != "" || got[3] != "d" {
		t.Fatalf("Strings() = %q", got)
	}
	if _, ok := names.Lookup(2); ok {
		t.Error("Lookup(2) ok = true for a nameless declaration")
	}
	if n, ok := names.Lookup(3); !ok || n != "d" {
		t.Errorf("Lookup(3) = %q, %v", n, ok)
	}
	for _, i := range []int{-1, 4} {
		if _, ok := names.Lookup(i); ok {
			t.Errorf("Lookup(%d) ok = true", i)
		}
	}
}
