package geojson

import (
	"math"

	"github.com/tidwall/gjson"
)

// Bounds is an accumulated bounding region in lon/lat degrees.
//
// A fresh Bounds starts at the {+inf,+inf,-inf,-inf} sentinel and is only
// finite once at least one point has contributed.
type Bounds struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// NewBounds returns the empty sentinel bounds.
func NewBounds() Bounds {
	return Bounds{
		MinLon: math.Inf(1),
		MinLat: math.Inf(1),
		MaxLon: math.Inf(-1),
		MaxLat: math.Inf(-1),
	}
}

// Extend folds a single coordinate pair into the bounds.
func (b *Bounds) Extend(lon, lat float64) {
	b.MinLon = math.Min(b.MinLon, lon)
	b.MinLat = math.Min(b.MinLat, lat)
	b.MaxLon = math.Max(b.MaxLon, lon)
	b.MaxLat = math.Max(b.MaxLat, lat)
}

// Valid reports whether at least one point has contributed.
func (b Bounds) Valid() bool {
	return !math.IsInf(b.MinLon, 1) && !math.IsInf(b.MaxLon, -1)
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() (lon, lat float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

// foldGeometry folds a GeoJSON geometry's coordinates into the bounds.
//
// Point geometries carry a single pair; the line and polygon families carry
// arbitrarily nested coordinate arrays which are flattened down to their
// leaf [lon, lat] pairs.
func foldGeometry(geom gjson.Result, b *Bounds) {
	coords := geom.Get("coordinates")
	switch geom.Get("type").String() {
	case "Point":
		extendLeaf(coords, b)
	case "LineString", "MultiLineString", "Polygon", "MultiPolygon":
		foldCoords(coords, b)
	}
}

func foldCoords(val gjson.Result, b *Bounds) {
	if !val.IsArray() {
		return
	}
	arr := val.Array()
	if len(arr) == 0 {
		return
	}
	if arr[0].IsArray() {
		for _, item := range arr {
			foldCoords(item, b)
		}
		return
	}
	extendLeaf(val, b)
}

func extendLeaf(pair gjson.Result, b *Bounds) {
	arr := pair.Array()
	if len(arr) < 2 {
		return
	}
	b.Extend(arr[0].Float(), arr[1].Float())
}
