package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/micutio/airfuse/internal"
)

// See https://openskynetwork.github.io/opensky-api/rest.html#all-state-vectors

const (
	metersToFeet       = 3.28084
	mpsToKnots         = 1.943844
	mpsToFeetPerMinute = 196.850394
	// stateVectorMinLen is the number of fields every state vector carries.
	stateVectorMinLen = 17
)

// OpenSkyResult mirrors the JSON returned by the OpenSky state vector endpoint.
type OpenSkyResult struct {
	Time   int64          `json:"time"`
	States []OpenSkyState `json:"states"`
}

// OpenSkyState is a single state vector. OpenSky encodes it as a positional JSON array.
type OpenSkyState struct {
	ICAO24         string
	Callsign       string
	OriginCountry  string
	TimePosition   *int64
	LastContact    int64
	Longitude      *float64
	Latitude       *float64
	BaroAltitude   *float64 // [m]
	OnGround       bool
	Velocity       *float64 // [m/s]
	TrueTrack      *float64 // [deg]
	VerticalRate   *float64 // [m/s]
	GeoAltitude    *float64 // [m]
	Squawk         string
	SPI            bool
	PositionSource int
	// Valid is false when the array could not be mapped onto the fields above.
	Valid bool
}

// UnmarshalJSON maps the positional state vector array onto the struct. Vectors with an
// unexpected shape are kept but marked invalid, so one bad row does not discard the payload.
func (s *OpenSkyState) UnmarshalJSON(data []byte) error {
	var fields []any
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("opensky state: %w: %w", ErrMalformed, err)
	}

	*s = OpenSkyState{}
	if len(fields) < stateVectorMinLen {
		return nil
	}

	icao, ok := fields[0].(string)
	if !ok || icao == "" {
		return nil
	}

	s.ICAO24 = icao
	s.Callsign = stringField(fields[1])
	s.OriginCountry = stringField(fields[2])
	if tp := floatField(fields[3]); tp != nil {
		v := int64(*tp)
		s.TimePosition = &v
	}
	if lc := floatField(fields[4]); lc != nil {
		s.LastContact = int64(*lc)
	}
	s.Longitude = floatField(fields[5])
	s.Latitude = floatField(fields[6])
	s.BaroAltitude = floatField(fields[7])
	s.OnGround, _ = fields[8].(bool)
	s.Velocity = floatField(fields[9])
	s.TrueTrack = floatField(fields[10])
	s.VerticalRate = floatField(fields[11])
	s.GeoAltitude = floatField(fields[13])
	s.Squawk = stringField(fields[14])
	s.SPI, _ = fields[15].(bool)
	if ps := floatField(fields[16]); ps != nil {
		s.PositionSource = int(*ps)
	}
	s.Valid = true

	return nil
}

func stringField(v any) string {
	str, _ := v.(string)
	return strings.TrimSpace(str)
}

func floatField(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// OpenSkyConfig configures the OpenSky adapter.
type OpenSkyConfig struct {
	Name        string
	Priority    int
	Reliability internal.Reliability
	// BaseURL is the state vector endpoint, e.g. https://opensky-network.org/api/states/all
	BaseURL string
	Client  ClientConfig
}

// OpenSky is the adapter for the OpenSky Network REST API.
type OpenSky struct {
	Descriptor
	baseURL string
	client  *Client
}

// NewOpenSky creates an OpenSky adapter.
func NewOpenSky(cfg OpenSkyConfig) *OpenSky {
	return &OpenSky{
		Descriptor: Descriptor{
			SourceName: cfg.Name,
			Rank:       cfg.Priority,
			Reliable:   cfg.Reliability,
		},
		baseURL: cfg.BaseURL,
		client:  NewClient(cfg.Name, cfg.Client),
	}
}

// Fetch queries all state vectors within the bounding box of area.
func (o *OpenSky) Fetch(ctx context.Context, area internal.Area) ([]RawResult, error) {
	var result OpenSkyResult
	if err := o.client.GetJSON(ctx, o.queryURL(area), &result); err != nil {
		return nil, fmt.Errorf("opensky fetch: %w", err)
	}

	return []RawResult{result}, nil
}

func (o *OpenSky) queryURL(area internal.Area) string {
	query := url.Values{}
	query.Set("lamin", strconv.FormatFloat(area.MinLat, 'f', 4, 64))
	query.Set("lomin", strconv.FormatFloat(area.MinLon, 'f', 4, 64))
	query.Set("lamax", strconv.FormatFloat(area.MaxLat, 'f', 4, 64))
	query.Set("lomax", strconv.FormatFloat(area.MaxLon, 'f', 4, 64))

	return o.baseURL + "?" + query.Encode()
}

func normalizeOpenSky(result OpenSkyResult, d Descriptor) []internal.PartialRecord {
	records := make([]internal.PartialRecord, 0, len(result.States))
	for i := range result.States {
		state := &result.States[i]
		if !state.Valid || state.Latitude == nil || state.Longitude == nil {
			continue
		}

		ts := state.LastContact
		if state.TimePosition != nil {
			ts = *state.TimePosition
		}
		if ts == 0 {
			ts = result.Time
		}

		altitude := state.BaroAltitude
		if altitude == nil {
			altitude = state.GeoAltitude
		}

		pos := internal.Position{
			Timestamp:    time.Unix(ts, 0),
			Lat:          *state.Latitude,
			Lon:          *state.Longitude,
			Altitude:     scaled(altitude, metersToFeet),
			Heading:      copyFloat(state.TrueTrack),
			GroundSpeed:  scaled(state.Velocity, mpsToKnots),
			VerticalRate: scaled(state.VerticalRate, mpsToFeetPerMinute),
			OnGround:     state.OnGround,
			Source:       d.SourceName,
			Reliability:  d.Reliable,
		}
		if !pos.HasValidCoordinates() {
			continue
		}

		records = append(records, internal.PartialRecord{
			ID:             internal.NormalizeID(state.ICAO24),
			Callsign:       state.Callsign,
			Squawk:         state.Squawk,
			Position:       pos,
			Source:         d.SourceName,
			SourcePriority: d.Rank,
		})
	}

	return records
}

func scaled(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	s := *v * factor
	return &s
}
