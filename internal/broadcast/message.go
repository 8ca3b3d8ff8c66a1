// Package broadcast contains throttler consumers that forward drained batches to remote clients.
package broadcast

import (
	"errors"
	"time"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/throttle"
)

// MessageTypeBatch is the type of messages carrying a drained batch.
const MessageTypeBatch = "aircraft.batch"

var ErrBroadcastFull = errors.New("broadcast queue full")

// Message is the JSON document sent for every drained batch.
type Message struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Class     throttle.Class `json:"class"`
	Entries   []BatchEntry   `json:"entries"`
}

// BatchEntry is one aircraft within a batch message.
type BatchEntry struct {
	ID       string                  `json:"id"`
	Score    float64                 `json:"score"`
	Aircraft internal.AircraftRecord `json:"aircraft"`
}

func newBatchMessage(class throttle.Class, entries []throttle.Entry, now time.Time) Message {
	msg := Message{
		Type:      MessageTypeBatch,
		Timestamp: now,
		Class:     class,
		Entries:   make([]BatchEntry, len(entries)),
	}
	for i := range entries {
		msg.Entries[i] = BatchEntry{ID: entries[i].ID, Score: entries[i].Score, Aircraft: entries[i].Payload}
	}
	return msg
}
