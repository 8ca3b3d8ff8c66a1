package throttle

import (
	"fmt"
	"math"
	"strings"

	"github.com/micutio/airfuse/internal"
)

// Class is the priority class of an update. It decides queue capacity, batch size and cadence.
type Class int

// Priority classes, from fastest to slowest cadence.
const (
	Critical Class = iota
	Normal
	Low
)

const classCount = 3

// Classes lists all priority classes in drain order.
var Classes = [classCount]Class{Critical, Normal, Low}

func (c Class) String() string {
	switch c {
	case Critical:
		return "critical"
	case Normal:
		return "normal"
	case Low:
		return "low"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// MarshalText encodes the class by name.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a class name.
func (c *Class) UnmarshalText(text []byte) error {
	parsed, ok := ParseClass(string(text))
	if !ok {
		return fmt.Errorf("unknown priority class %q", text)
	}
	*c = parsed
	return nil
}

// ParseClass converts a class name into a Class.
func ParseClass(name string) (Class, bool) {
	for _, c := range Classes {
		if strings.EqualFold(strings.TrimSpace(name), c.String()) {
			return c, true
		}
	}
	return 0, false
}

func (c Class) valid() bool {
	return c >= Critical && c <= Low
}

// Thresholds parametrize classification and scoring.
type Thresholds struct {
	CriticalVerticalRate float64 `mapstructure:"critical_vertical_rate"` // [ft/min], magnitude
	CriticalGroundSpeed  float64 `mapstructure:"critical_ground_speed"`  // [knots]
	LowGroundSpeed       float64 `mapstructure:"low_ground_speed"`       // [knots]
	LowAltitude          float64 `mapstructure:"low_altitude"`           // [feet]
	HeadingChange        float64 `mapstructure:"heading_change"`         // [degrees]
	SpeedChange          float64 `mapstructure:"speed_change"`           // [knots]
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalVerticalRate: 4000, //nolint:mnd // defaults
		CriticalGroundSpeed:  600,  //nolint:mnd // defaults
		LowGroundSpeed:       50,   //nolint:mnd // defaults
		LowAltitude:          500,  //nolint:mnd // defaults
		HeadingChange:        15,   //nolint:mnd // defaults
		SpeedChange:          25,   //nolint:mnd // defaults
	}
}

// Classify buckets an update. Emergencies and extreme vertical rates or speeds are critical
// regardless of anything else. Aircraft on the ground, very slow or very low are low. Values the
// aircraft did not report never make it low.
func Classify(payload internal.AircraftRecord, th Thresholds) Class {
	pos := payload.Position

	if payload.IsEmergency() {
		return Critical
	}
	if pos.VerticalRate != nil && math.Abs(*pos.VerticalRate) >= th.CriticalVerticalRate {
		return Critical
	}
	if pos.GroundSpeed != nil && *pos.GroundSpeed >= th.CriticalGroundSpeed {
		return Critical
	}

	if pos.OnGround {
		return Low
	}
	if pos.GroundSpeed != nil && *pos.GroundSpeed <= th.LowGroundSpeed {
		return Low
	}
	if pos.Altitude != nil && *pos.Altitude <= th.LowAltitude {
		return Low
	}

	return Normal
}

// score components
const (
	altitudePerPoint  = 1000 // [feet]
	maxAltitudePoints = 45
	speedPerPoint     = 20 // [knots]
	maxSpeedPoints    = 30
	callsignPoints    = 10
	changePoints      = 25
	emergencyPoints   = 100
)

// Score computes the priority of an update. previous is the payload it supersedes, if any.
func Score(payload internal.AircraftRecord, previous *internal.AircraftRecord, th Thresholds) float64 {
	pos := payload.Position

	var score float64
	if !pos.OnGround {
		score += clamp(pos.AltitudeOr(0)/altitudePerPoint, maxAltitudePoints)
	}
	score += clamp(pos.GroundSpeedOr(0)/speedPerPoint, maxSpeedPoints)

	if payload.Callsign != "" {
		score += callsignPoints
	}
	if previous != nil && SignificantChange(previous.Position, pos, th) {
		score += changePoints
	}
	if payload.IsEmergency() {
		score += emergencyPoints
	}

	return score
}

// SignificantChange reports whether heading or speed changed by at least the thresholds.
// Headings wrap around, so 355° to 5° is a change of 10°.
func SignificantChange(before, after internal.Position, th Thresholds) bool {
	if before.Heading != nil && after.Heading != nil &&
		internal.HeadingDelta(*before.Heading, *after.Heading) >= th.HeadingChange {
		return true
	}
	if before.GroundSpeed != nil && after.GroundSpeed != nil &&
		math.Abs(*after.GroundSpeed-*before.GroundSpeed) >= th.SpeedChange {
		return true
	}
	return false
}

func clamp(v, upper float64) float64 {
	return math.Max(0, math.Min(v, upper))
}
