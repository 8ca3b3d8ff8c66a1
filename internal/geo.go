package internal

import (
	"fmt"
	"math"
)

// Inspired by https://github.com/LucaTheHacker/go-haversine

// Constants

const (
	earthRadiusKilometers    float64 = 6371 // Radius of Earth in kilometers
	earthRadiusNauticalMiles float64 = 3443 // Radius of Earth in nautical miles
	piHalf                   float64 = math.Pi / 180
	// minutesPerDegree converts nautical miles to degrees of latitude.
	minutesPerDegree float64 = 60
	// areaKeyPrecision is the number of decimal places kept in cache keys (~1.1 km).
	areaKeyPrecision float64 = 100
)

// Conversion function

func degreesToRadian(d float64) float64 {
	return d * piHalf
}

// Coordinate type

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

func (c Coordinates) toRadians() Coordinates {
	return Coordinates{
		Latitude:  degreesToRadian(c.Latitude),
		Longitude: degreesToRadian(c.Longitude),
	}
}

// NewCoordinates returns a coordinates struct based on parameters passed.
func NewCoordinates(latitude, longitude float64) Coordinates {
	return Coordinates{
		Latitude:  latitude,
		Longitude: longitude,
	}
}

// distance type

type DistanceStruct struct {
	C float64 // Must be multiplied to obtain distance. Public in order to allow unexpected calculations.
}

func newDistanceStruct(distance float64) DistanceStruct {
	return DistanceStruct{C: distance}
}

func (d DistanceStruct) Kilometers() float64 {
	return d.C * earthRadiusKilometers
}

func (d DistanceStruct) NauticalMiles() float64 {
	return d.C * earthRadiusNauticalMiles
}

// Distance calculates distance using the haversine formula.
//
//nolint:mnd // readability of mathmatic formula
func Distance(p, q Coordinates) DistanceStruct {
	fromPos := p.toRadians()
	toPos := q.toRadians()

	deltaLat := toPos.Latitude - fromPos.Latitude
	deltaLon := toPos.Longitude - fromPos.Longitude

	a := math.Pow(math.Sin(deltaLat/2), 2) +
		math.Cos(fromPos.Latitude)*
			math.Cos(toPos.Latitude)*
			math.Pow(math.Sin(deltaLon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return newDistanceStruct(c)
}

// Area type

// Area is the bounding box an aggregation query covers.
// Construct it with NewArea or AreaAround so the corners are always normalized.
type Area struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// NewArea builds an area from two opposite corners given in any order.
func NewArea(lat1, lon1, lat2, lon2 float64) Area {
	return Area{
		MinLat: math.Min(lat1, lat2),
		MinLon: math.Min(lon1, lon2),
		MaxLat: math.Max(lat1, lat2),
		MaxLon: math.Max(lon1, lon2),
	}
}

// AreaAround builds the bounding box enclosing a circle of radiusNM nautical miles around lat/lon.
func AreaAround(lat, lon, radiusNM float64) Area {
	deltaLat := radiusNM / minutesPerDegree
	cosLat := math.Cos(degreesToRadian(lat))
	deltaLon := 180.0
	if cosLat > 1e-6 {
		deltaLon = math.Min(deltaLat/cosLat, 180)
	}

	return NewArea(
		math.Max(lat-deltaLat, -90), math.Max(lon-deltaLon, -180),
		math.Min(lat+deltaLat, 90), math.Min(lon+deltaLon, 180),
	)
}

// Center returns the midpoint of the area.
func (a Area) Center() Coordinates {
	return NewCoordinates((a.MinLat+a.MaxLat)/2, (a.MinLon+a.MaxLon)/2)
}

// RadiusNM returns the radius of the smallest circle around the center enclosing the whole area.
func (a Area) RadiusNM() float64 {
	return Distance(a.Center(), NewCoordinates(a.MaxLat, a.MaxLon)).NauticalMiles()
}

// Contains reports whether the coordinate lies within the area, borders included.
func (a Area) Contains(lat, lon float64) bool {
	return lat >= a.MinLat && lat <= a.MaxLat && lon >= a.MinLon && lon <= a.MaxLon
}

// Key returns the normalized cache key of the area. Areas that only differ below the key
// precision share a key.
func (a Area) Key() string {
	return fmt.Sprintf("area:%.2f:%.2f:%.2f:%.2f",
		roundForKey(a.MinLat), roundForKey(a.MinLon), roundForKey(a.MaxLat), roundForKey(a.MaxLon))
}

func roundForKey(v float64) float64 {
	r := math.Round(v*areaKeyPrecision) / areaKeyPrecision
	if r == 0 {
		return 0 // drop the sign of negative zero
	}
	return r
}
