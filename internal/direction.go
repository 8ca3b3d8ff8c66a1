package internal

import "math"

const (
	dirUnknown string = "unknown"
	dirN       string = "N"
	dirNNE     string = "NNE"
	dirNE      string = "NE"
	dirENE     string = "ENE"
	dirE       string = "E"
	dirESE     string = "ESE"
	dirSE      string = "SE"
	dirSSE     string = "SSE"
	dirS       string = "S"
	dirSSW     string = "SSW"
	dirSW      string = "SW"
	dirWSW     string = "WSW"
	dirW       string = "W"
	dirWNW     string = "WNW"
	dirNW      string = "NW"
	dirNNW     string = "NNW"
)

var directions = []string{ //nolint: gochecknoglobals // lookup table
	dirN, dirNNE, dirNE, dirENE,
	dirE, dirESE, dirSE, dirSSE,
	dirS, dirSSW, dirSW, dirWSW,
	dirW, dirWNW, dirNW, dirNNW,
}

// Direction returns the 16-point compass direction in which dest lies as seen from origin.
func Direction(origin, dest Coordinates) string {
	if origin == dest {
		return dirUnknown
	}

	bearing := calculateBearing(origin.Latitude, origin.Longitude, dest.Latitude, dest.Longitude)
	step := 360.0 / float64(len(directions))
	idx := int(math.Floor((bearing+step/2)/step)) % len(directions)

	return directions[idx]
}

// toDegrees converts radians to degrees.
func toDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// calculateBearing calculates the initial bearing (forward azimuth) from point 1 to point 2.
func calculateBearing(lat1, lon1, lat2, lon2 float64) float64 {
	fLat := degreesToRadian(lat1)
	fLong := degreesToRadian(lon1)
	tLat := degreesToRadian(lat2)
	tLong := degreesToRadian(lon2)

	dLon := tLong - fLong

	y := math.Sin(dLon) * math.Cos(tLat)
	x := math.Cos(fLat)*math.Sin(tLat) - math.Sin(fLat)*math.Cos(tLat)*math.Cos(dLon)

	brng := math.Atan2(y, x)

	// The result from Atan2 ranges from -180 to +180, normalize to [0, 360).
	return math.Mod(toDegrees(brng)+360.0, 360.0) //nolint: mnd // readability
}

// HeadingDelta returns the smallest angle between two headings in degrees, accounting for the
// wraparound at north (350° and 10° are 20° apart).
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360.0)
	if d > 180.0 {
		d = 360.0 - d
	}
	return d
}
