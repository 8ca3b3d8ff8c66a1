package tickerapp

import (
	"fmt"
	"sync"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"

	"github.com/micutio/airfuse/internal"
)

const (
	// appIconPath is the file path to the icon png for this application.
	appIconPath = "./assets/icon.png"
)

// Notify sends desktop notifications about emergencies, once per aircraft and emergency code.
type Notify struct {
	send   func(title, message string) error
	logger zerolog.Logger

	mu       sync.Mutex
	notified map[string]string
}

// NewNotify creates a notifier sending desktop notifications as appName.
func NewNotify(appName string, logger zerolog.Logger) *Notify {
	beeep.AppName = appName //nolint:reassign // This is the only way to set app name in beeep.
	return &Notify{
		send: func(title, message string) error {
			return beeep.Notify(title, message, appIconPath)
		},
		logger:   logger,
		notified: make(map[string]string),
	}
}

// Emergency notifies about an aircraft declaring an emergency, unless the same code was already
// reported for it. direction is the compass direction of the aircraft as seen from the monitored
// area, or empty if not known.
func (n *Notify) Emergency(aircraft *internal.AircraftRecord, direction string) {
	code := emergencyCode(aircraft)

	n.mu.Lock()
	if n.notified[aircraft.ID] == code {
		n.mu.Unlock()
		return
	}
	n.notified[aircraft.ID] = code
	n.mu.Unlock()

	msgTitle := "Emergency Squawk Spotted"
	msgBody := fmt.Sprintf("%s (%s) declares %s", aircraft.GetFlightNoAsStr(), aircraft.ID, code)
	if aircraft.Registration != "" {
		msgBody = fmt.Sprintf("%s\nregistered as %s", msgBody, aircraft.Registration)
	}
	if direction != "" {
		msgBody = fmt.Sprintf("%s\nlocated %s", msgBody, direction)
	}

	if err := n.send(msgTitle, msgBody); err != nil {
		n.logger.Warn().Err(err).Str("id", aircraft.ID).Msg("unable to send notification")
	}
}

// emergencyCode names the emergency, preferring the status over the squawk.
func emergencyCode(aircraft *internal.AircraftRecord) string {
	if aircraft.Emergency != "" && aircraft.Emergency != "none" {
		return aircraft.Emergency
	}
	return "squawk " + aircraft.Squawk
}
