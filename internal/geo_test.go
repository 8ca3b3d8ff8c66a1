package internal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// Singapore Changi to Kuala Lumpur International, roughly 295 km.
	sin := NewCoordinates(1.359297, 103.989348)
	kul := NewCoordinates(2.745578, 101.709917)

	assert.InDelta(t, 295.0, Distance(sin, kul).Kilometers(), 5.0)
	assert.InDelta(t, 0.0, Distance(sin, sin).Kilometers(), 1e-9)
}

func TestNewAreaIsCornerOrderIndependent(t *testing.T) {
	a := NewArea(1, 103, 2, 104)
	b := NewArea(2, 104, 1, 103)
	c := NewArea(1, 104, 2, 103)

	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.Equal(t, a.Key(), c.Key())
}

func TestAreaKey(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Area
		sameKeys bool
	}{
		{
			name:     "differences below precision share a key",
			a:        NewArea(1.3591, 103.9891, 2.0001, 104.5),
			b:        NewArea(1.3587, 103.9894, 1.9999, 104.5002),
			sameKeys: true,
		},
		{
			name:     "differences above precision do not",
			a:        NewArea(1.35, 103.98, 2, 104),
			b:        NewArea(1.40, 103.98, 2, 104),
			sameKeys: false,
		},
		{
			name:     "negative zero is normalized",
			a:        NewArea(-0.001, -0.001, 1, 1),
			b:        NewArea(0.001, 0.001, 1, 1),
			sameKeys: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.sameKeys, tt.a.Key() == tt.b.Key(), "%s vs %s", tt.a.Key(), tt.b.Key())
		})
	}

	assert.Equal(t, "area:-1.50:-0.25:1.00:2.00", NewArea(1, 2, -1.5, -0.25).Key())
}

func TestAreaAround(t *testing.T) {
	area := AreaAround(0, 0, 60)

	assert.InDelta(t, -1.0, area.MinLat, 1e-9)
	assert.InDelta(t, 1.0, area.MaxLat, 1e-9)
	assert.InDelta(t, -1.0, area.MinLon, 1e-9)
	assert.InDelta(t, 1.0, area.MaxLon, 1e-9)
	assert.True(t, area.Contains(0.5, -0.5))
	assert.False(t, area.Contains(1.5, 0))

	center := area.Center()
	assert.InDelta(t, 0, center.Latitude, 1e-9)
	assert.InDelta(t, 0, center.Longitude, 1e-9)
	// half diagonal of a 2x2 degree box at the equator
	assert.InDelta(t, 60*math.Sqrt2, area.RadiusNM(), 1.0)
}

func TestAreaAroundClampsAtPoles(t *testing.T) {
	area := AreaAround(89.9, 10, 120)

	assert.LessOrEqual(t, area.MaxLat, 90.0)
	assert.GreaterOrEqual(t, area.MinLon, -180.0)
	assert.LessOrEqual(t, area.MaxLon, 180.0)
}

func TestHasValidCoordinatesGeo(t *testing.T) {
	tests := []struct {
		name     string
		pos      Position
		expected bool
	}{
		{name: "valid", pos: Position{Lat: 1.3, Lon: 103.9}, expected: true},
		{name: "null island", pos: Position{Lat: 0, Lon: 0}, expected: false},
		{name: "equator only", pos: Position{Lat: 0, Lon: 10}, expected: true},
		{name: "latitude out of range", pos: Position{Lat: 91, Lon: 10}, expected: false},
		{name: "longitude out of range", pos: Position{Lat: 10, Lon: -181}, expected: false},
		{name: "NaN", pos: Position{Lat: math.NaN(), Lon: 10}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.pos.HasValidCoordinates())
		})
	}
}
