package layer

import (
	"reflect"
	"testing"
)

func TestName(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"KJFK-rwy.geojson", "rwy"},
		{"kjfk_twy.geojson", "twy"},
		{"EGLL-apron_markings.geojson", "apron-markings"},
		{"runways.geojson", "runways"},
		{"trailing-.geojson", "trailing"},
		{"KJFK-.geojson", "KJFK"},
		{"/tmp/work/KJFK-rwy.geojson", "rwy"},
	}
	for _, tc := range cases {
		if got := Name(tc.filename); got != tc.want {
			t.Fatalf("Name(%q) = %q, want %q", tc.filename, got, tc.want)
		}
	}
}

func TestGroupPreservesDiscoveryOrder(t *testing.T) {
	files := []string{
		"EGLL-rwy.geojson",
		"KJFK-rwy.geojson",
		"KJFK-twy.geojson",
	}
	groups := Group(files)
	if len(groups) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(groups))
	}
	want := []string{"EGLL-rwy.geojson", "KJFK-rwy.geojson"}
	if !reflect.DeepEqual(groups["rwy"], want) {
		t.Fatalf("unexpected rwy files: %v", groups["rwy"])
	}
}

func TestNamesAreSorted(t *testing.T) {
	groups := Group([]string{"a-twy.geojson", "b-rwy.geojson", "c-apron.geojson"})
	got := Names(groups)
	want := []string{"apron", "rwy", "twy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestNameIsIndependentOfOrder(t *testing.T) {
	forward := Group([]string{"KJFK-rwy.geojson", "EGLL-twy.geojson"})
	reversed := Group([]string{"EGLL-twy.geojson", "KJFK-rwy.geojson"})
	if !reflect.DeepEqual(Names(forward), Names(reversed)) {
		t.Fatal("layer names must not depend on discovery order")
	}
}
