package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/micutio/airfuse/internal"
)

// See https://www.adsbexchange.com/version-2-api-wip/
// for further explanations of the fields

const (
	// altGround is the value of alt_baro for aircraft on the ground.
	altGround = "ground"
	// nowMillisThreshold separates `now` values given in milliseconds (v2 APIs) from seconds
	// (aircraft.json of a local readsb/dump1090).
	nowMillisThreshold = 1e11
)

// ReadsbResult mirrors the JSON returned by readsb based APIs (adsb.fi, adsb.lol,
// airplanes.live) and by a local readsb or dump1090 aircraft.json.
type ReadsbResult struct {
	Now         float64          `json:"now"`         // time this file was generated in [ms] or [s]
	ResultCount int              `json:"resultCount"` // total count of aircraft returned
	Aircraft    []ReadsbAircraft `json:"aircraft"`    // list of aircraft
	AC          []ReadsbAircraft `json:"ac"`          // list of aircraft, adsb.lol and airplanes.live naming
	// ReceivedAt is set by the adapter and used when the payload carries no timestamp.
	ReceivedAt time.Time `json:"-"`
}

// ReadsbAircraft is the subset of the readsb aircraft object airfuse uses.
type ReadsbAircraft struct {
	Hex          string   `json:"hex"`       // hex code ID for aircraft, assumed to be unique
	Flight       string   `json:"flight"`    // Flight number
	Registration string   `json:"r"`         // Registration of the aircraft
	IcaoType     string   `json:"t"`         // aircraft ICAO type pulled from database
	AltBaro      any      `json:"alt_baro"`  // altitude in [feet] or string "ground"
	AltGeom      *float64 `json:"alt_geom"`  // altitude in [feet]
	GroundSpeed  *float64 `json:"gs"`        // ground speed in [knots]
	Track        *float64 `json:"track"`     // true track over ground in degrees (0-359)
	BaroRate     *float64 `json:"baro_rate"` // rate of change of baro alt in [feet/minute]
	GeomRate     *float64 `json:"geom_rate"` // Rate of change of geometric (GNSS/INS) altitude in [ft/min]
	Squawk       string   `json:"squawk"`    // Mode A code (Squawk) encoded as 4 octal digits
	Emergency    string   `json:"emergency"` // emergency/priority status, 7X00
	Lat          *float64 `json:"lat"`       // Latitude in [decimal degrees]
	Lon          *float64 `json:"lon"`       // Longitude in [decimal degrees]
	Seen         float64  `json:"seen"`      // last message received from aircraft in [seconds] from 'now'
	SeenPos      *float64 `json:"seen_pos"`  // last update of position from aircraft in [seconds] from 'now'
}

// ReadsbConfig configures a readsb based adapter.
type ReadsbConfig struct {
	Name        string
	Priority    int
	Reliability internal.Reliability
	// URLTemplate may contain the placeholders {lat}, {lon} and {dist} (nautical miles).
	URLTemplate string
	Client      ClientConfig
}

// Readsb is the adapter for readsb based feeds.
type Readsb struct {
	Descriptor
	urlTemplate string
	client      *Client
}

// NewReadsb creates a readsb adapter.
func NewReadsb(cfg ReadsbConfig) *Readsb {
	return &Readsb{
		Descriptor: Descriptor{
			SourceName: cfg.Name,
			Rank:       cfg.Priority,
			Reliable:   cfg.Reliability,
		},
		urlTemplate: cfg.URLTemplate,
		client:      NewClient(cfg.Name, cfg.Client),
	}
}

// Fetch queries the feed for all aircraft within the circle enclosing area.
func (r *Readsb) Fetch(ctx context.Context, area internal.Area) ([]RawResult, error) {
	var result ReadsbResult
	if err := r.client.GetJSON(ctx, r.queryURL(area), &result); err != nil {
		return nil, fmt.Errorf("readsb fetch: %w", err)
	}
	result.ReceivedAt = time.Now()

	return []RawResult{result}, nil
}

func (r *Readsb) queryURL(area internal.Area) string {
	center := area.Center()
	// adsb.fi caps the radius at 250 nm
	dist := min(int(area.RadiusNM()+0.5), 250) //nolint:mnd // api limit

	return strings.NewReplacer(
		"{lat}", strconv.FormatFloat(center.Latitude, 'f', 6, 64),
		"{lon}", strconv.FormatFloat(center.Longitude, 'f', 6, 64),
		"{dist}", strconv.Itoa(max(dist, 1)),
	).Replace(r.urlTemplate)
}

func normalizeReadsb(result ReadsbResult, d Descriptor) []internal.PartialRecord {
	generated := readsbTime(result.Now, result.ReceivedAt)

	aircraft := result.Aircraft
	if len(aircraft) == 0 {
		aircraft = result.AC
	}

	records := make([]internal.PartialRecord, 0, len(aircraft))
	for i := range aircraft {
		ac := &aircraft[i]
		if ac.Hex == "" || ac.Lat == nil || ac.Lon == nil {
			continue
		}

		seen := ac.Seen
		if ac.SeenPos != nil {
			seen = *ac.SeenPos
		}

		altitude, onGround := readsbAltitude(ac)
		verticalRate := ac.BaroRate
		if verticalRate == nil {
			verticalRate = ac.GeomRate
		}

		pos := internal.Position{
			Timestamp:    generated.Add(-time.Duration(seen * float64(time.Second))),
			Lat:          *ac.Lat,
			Lon:          *ac.Lon,
			Altitude:     altitude,
			Heading:      copyFloat(ac.Track),
			GroundSpeed:  copyFloat(ac.GroundSpeed),
			VerticalRate: copyFloat(verticalRate),
			OnGround:     onGround,
			Source:       d.SourceName,
			Reliability:  d.Reliable,
		}
		if !pos.HasValidCoordinates() {
			continue
		}

		records = append(records, internal.PartialRecord{
			ID:             internal.NormalizeID(ac.Hex),
			Callsign:       strings.TrimSpace(ac.Flight),
			Registration:   strings.TrimSpace(ac.Registration),
			AircraftType:   strings.TrimSpace(ac.IcaoType),
			Squawk:         strings.TrimSpace(ac.Squawk),
			Emergency:      readsbEmergency(ac.Emergency),
			Position:       pos,
			Source:         d.SourceName,
			SourcePriority: d.Rank,
		})
	}

	return records
}

// readsbTime converts the `now` field into a time, accepting both milliseconds and seconds.
func readsbTime(now float64, fallback time.Time) time.Time {
	switch {
	case now <= 0:
		if fallback.IsZero() {
			return time.Now()
		}
		return fallback
	case now >= nowMillisThreshold:
		return time.UnixMilli(int64(now))
	default:
		return time.UnixMilli(int64(now * 1000)) //nolint:mnd // seconds to ms
	}
}

// readsbAltitude reads the altitude of an aircraft. The barometric altitude is stored either as
// the string 'ground' or as a number denoting the measured barometric altitude. The geometric
// altitude is used when no barometric altitude was received.
func readsbAltitude(ac *ReadsbAircraft) (*float64, bool) {
	if num, numOk := ac.AltBaro.(float64); numOk {
		return &num, false
	}

	if str, strOk := ac.AltBaro.(string); strOk && str == altGround {
		zero := 0.0
		return &zero, true
	}

	return copyFloat(ac.AltGeom), false
}

func readsbEmergency(status string) string {
	status = strings.TrimSpace(status)
	if status == "none" {
		return ""
	}
	return status
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
