package geo

import (
	"testing"

	"github.com/fleetsync/playback/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatLngFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    core.LatLng
		wantErr bool
	}{
		{"12.9716,77.5946", core.LatLng{Lat: 12.9716, Lng: 77.5946}, false},
		{" -33.86 , 151.21 ", core.LatLng{Lat: -33.86, Lng: 151.21}, false},
		{"0,0", core.LatLng{}, false},
		{"12.9716", core.LatLng{}, true},
		{"12.9,77.5,3", core.LatLng{}, true},
		{"abc,77.5", core.LatLng{}, true},
		{"12.9,abc", core.LatLng{}, true},
		{"91,0", core.LatLng{}, true},
		{"0,181", core.LatLng{}, true},
		{"", core.LatLng{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LatLngFromString(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProject_Origin(t *testing.T) {
	x, y := Project(core.LatLng{})
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)
}

func TestProject_KnownPoint(t *testing.T) {
	// 180° of longitude is half the mercator world width.
	x, _ := Project(core.LatLng{Lat: 0, Lng: 180})
	assert.InDelta(t, 20037508.34, x, 1)
}

func TestPoint3857_RoundTrip(t *testing.T) {
	in := core.LatLng{Lat: 12.971599, Lng: 77.594563}
	p := Point3857(in)

	out, ok := LatLngFromPoint3857(p)
	require.True(t, ok)
	assert.InDelta(t, in.Lat, out.Lat, 1e-6)
	assert.InDelta(t, in.Lng, out.Lng, 1e-6)
}

func TestBounds(t *testing.T) {
	pts := []core.LatLng{
		{Lat: 12.90, Lng: 77.60},
		{Lat: 12.95, Lng: 77.55},
		{Lat: 12.92, Lng: 77.70},
	}
	sw, ne, ok := Bounds(pts)
	require.True(t, ok)
	assert.Equal(t, core.LatLng{Lat: 12.90, Lng: 77.55}, sw)
	assert.Equal(t, core.LatLng{Lat: 12.95, Lng: 77.70}, ne)
}

func TestBounds_Degenerate(t *testing.T) {
	_, _, ok := Bounds(nil)
	assert.False(t, ok)

	p := core.LatLng{Lat: 1, Lng: 2}
	sw, ne, ok := Bounds([]core.LatLng{p})
	require.True(t, ok)
	assert.Equal(t, p, sw)
	assert.Equal(t, p, ne)
}

func TestLineString_Length(t *testing.T) {
	ls := LineString([]core.LatLng{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 3}, {Lat: 4, Lng: 3}})
	assert.Equal(t, 3, ls.Coordinates().Length())
	assert.InDelta(t, 7, ls.Length(), 1e-9)
}
