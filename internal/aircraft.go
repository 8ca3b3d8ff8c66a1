// Package internal provides the aircraft data model shared by the aggregator, the throttler and
// the front ends.
package internal

import (
	"fmt"
	"strings"
	"time"
)

const (
	// altitudeUnknown is what we use for aircraft without a given altitude.
	altitudeUnknown = "  n/a"
	// altitudeGround is shown for aircraft reporting to be on the ground.
	altitudeGround = "ground"
	// flightUnknown is what we use for aircraft with missing flight number.
	// Note: we're adding space at the end to have a length that is consistent with ICAO codes.
	flightUnknown = "unknown "
)

// Reliability classifies how much a source is trusted to report accurate positions.
type Reliability string

// Reliability classes.
const (
	ReliabilityLow    Reliability = "low"
	ReliabilityMedium Reliability = "medium"
	ReliabilityHigh   Reliability = "high"
)

// ParseReliability converts a configuration value into a Reliability.
func ParseReliability(value string) (Reliability, bool) {
	switch Reliability(strings.ToLower(strings.TrimSpace(value))) {
	case ReliabilityLow:
		return ReliabilityLow, true
	case ReliabilityMedium:
		return ReliabilityMedium, true
	case ReliabilityHigh:
		return ReliabilityHigh, true
	}
	return "", false
}

// Position is a single position report of an aircraft as seen by one source.
// Positions are built once by a feed normalizer and only read afterwards.
type Position struct {
	Timestamp    time.Time   `json:"timestamp"`
	Lat          float64     `json:"lat"`                     // Latitude in [decimal degrees]
	Lon          float64     `json:"lon"`                     // Longitude in [decimal degrees]
	Altitude     *float64    `json:"altitude,omitempty"`      // barometric altitude in [feet]
	Heading      *float64    `json:"heading,omitempty"`       // true track over ground in [degrees]
	GroundSpeed  *float64    `json:"ground_speed,omitempty"`  // ground speed in [knots]
	VerticalRate *float64    `json:"vertical_rate,omitempty"` // rate of climb in [feet/minute]
	OnGround     bool        `json:"on_ground"`
	Source       string      `json:"source"`
	Reliability  Reliability `json:"reliability"`
}

// HasValidCoordinates reports whether lat/lon form a usable coordinate pair.
// Feeds use 0,0 as a placeholder for "no position", so null island is rejected as well.
func (p Position) HasValidCoordinates() bool {
	if p.Lat != p.Lat || p.Lon != p.Lon { // NaN
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return false
	}
	return p.Lat != 0 || p.Lon != 0
}

// AltitudeOr returns the altitude or the fallback if the source did not report one.
func (p Position) AltitudeOr(fallback float64) float64 {
	if p.Altitude == nil {
		return fallback
	}
	return *p.Altitude
}

// HeadingOr returns the heading or the fallback if the source did not report one.
func (p Position) HeadingOr(fallback float64) float64 {
	if p.Heading == nil {
		return fallback
	}
	return *p.Heading
}

// GroundSpeedOr returns the ground speed or the fallback if the source did not report one.
func (p Position) GroundSpeedOr(fallback float64) float64 {
	if p.GroundSpeed == nil {
		return fallback
	}
	return *p.GroundSpeed
}

// VerticalRateOr returns the vertical rate or the fallback if the source did not report one.
func (p Position) VerticalRateOr(fallback float64) float64 {
	if p.VerticalRate == nil {
		return fallback
	}
	return *p.VerticalRate
}

// PartialRecord is what a single source knows about a single aircraft.
// Several partial records for the same ID are merged into one AircraftRecord.
type PartialRecord struct {
	ID             string
	Callsign       string
	Registration   string
	AircraftType   string
	Squawk         string
	Emergency      string
	Position       Position
	Source         string
	SourcePriority int
}

// AircraftRecord is the reconciled view of one aircraft within one aggregation result.
type AircraftRecord struct {
	ID           string    `json:"id"`                     // hex transponder address, lower case
	Callsign     string    `json:"callsign,omitempty"`     // flight number as broadcast
	Registration string    `json:"registration,omitempty"` // registration of the aircraft
	AircraftType string    `json:"type,omitempty"`         // ICAO type designator
	Squawk       string    `json:"squawk,omitempty"`       // Mode A code encoded as 4 octal digits
	Emergency    string    `json:"emergency,omitempty"`    // emergency/priority status
	Position     Position  `json:"position"`
	Sources      []string  `json:"sources"`
	LastUpdate   time.Time `json:"last_update"`
}

// NormalizeID turns a transponder address into the merge key used across all sources.
func NormalizeID(hex string) string {
	return strings.ToLower(strings.TrimSpace(hex))
}

// IsEmergency reports whether the aircraft declares an emergency, either through the emergency
// status field or through one of the emergency squawk codes.
func (ac *AircraftRecord) IsEmergency() bool {
	if ac.Emergency != "" && ac.Emergency != "none" {
		return true
	}
	switch ac.Squawk {
	case "7500", "7600", "7700":
		return true
	}
	return false
}

// GetAltitudeAsStr returns the altitude formatted without decimal places, 'ground' for aircraft
// on the ground, or a placeholder if no altitude is known.
func (ac *AircraftRecord) GetAltitudeAsStr() string {
	if ac.Position.OnGround {
		return altitudeGround
	}
	if ac.Position.Altitude == nil {
		return altitudeUnknown
	}
	return fmt.Sprintf("%5.0f", *ac.Position.Altitude)
}

// GetFlightNoAsStr converts the flight number to a unified string of length 8.
// Returns either the full flight number or 'unknown ' if it was not transmitted.
func (ac *AircraftRecord) GetFlightNoAsStr() string {
	if ac.Callsign == "" {
		return flightUnknown
	}

	return fmt.Sprintf("%-8s", ac.Callsign)
}
