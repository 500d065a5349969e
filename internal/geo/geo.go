package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/fleetsync/playback/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Stored geometry is always EPSG:3857 so SQLite and Postgres hold the same
// WKB and can be decoded with geom's Scan. Samples and the surface API use
// WGS84 lat/lng.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// LatLngFromString parses "lat,lng".
func LatLngFromString(coords string) (core.LatLng, error) {
	parts := strings.Split(coords, ",")
	if len(parts) != 2 {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return core.LatLng{}, ErrInvalidCoordinates
	}
	return core.LatLng{Lat: lat, Lng: lng}, nil
}

// Project converts a WGS84 position to web mercator metres.
func Project(ll core.LatLng) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(ll.Lng, ll.Lat, 0)
	return x, y
}

// Unproject converts web mercator metres back to WGS84, rounded to the
// sample precision.
func Unproject(x, y float64) core.LatLng {
	f := wgs84.EPSG().Transform(3857, 4326)
	lng, lat, _ := f(x, y, 0)
	return core.LatLng{Lat: core.RoundCoord(lat), Lng: core.RoundCoord(lng)}
}

// Point3857 builds the stored point for a WGS84 position.
func Point3857(ll core.LatLng) geom.Point {
	x, y := Project(ll)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}})
}

// LatLngFromPoint3857 decodes a stored point. Empty points report false.
func LatLngFromPoint3857(p geom.Point) (core.LatLng, bool) {
	xy, ok := p.XY()
	if !ok {
		return core.LatLng{}, false
	}
	return Unproject(xy.X, xy.Y), true
}

// LineString builds a trail geometry with X=lng, Y=lat.
func LineString(points []core.LatLng) geom.LineString {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.Lng, p.Lat)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

// Bounds returns the south-west and north-east corners enclosing points.
func Bounds(points []core.LatLng) (sw, ne core.LatLng, ok bool) {
	switch len(points) {
	case 0:
		return core.LatLng{}, core.LatLng{}, false
	case 1:
		return points[0], points[0], true
	}
	lo, hi, ok := LineString(points).Envelope().MinMaxXYs()
	if !ok {
		return core.LatLng{}, core.LatLng{}, false
	}
	return core.LatLng{Lat: lo.Y, Lng: lo.X}, core.LatLng{Lat: hi.Y, Lng: hi.X}, true
}
