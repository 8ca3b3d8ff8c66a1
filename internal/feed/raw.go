// Package feed contains the source adapters that turn external aircraft feeds into partial
// aircraft records.
//
// Every feed's native payload is represented by its own RawResult variant. Each variant has
// exactly one normalizer, so a field a feed does not provide is visible in the variant's type
// instead of surfacing as a zero value somewhere downstream.
package feed

import (
	"github.com/micutio/airfuse/internal"
)

// RawResult is the raw, feed-specific answer to one query. It is only ever consumed by the
// normalizer of the adapter that produced it.
type RawResult interface {
	rawResult()
}

func (ReadsbResult) rawResult()  {}
func (OpenSkyResult) rawResult() {}

// Descriptor holds the static properties every adapter declares.
type Descriptor struct {
	SourceName string
	Rank       int
	Reliable   internal.Reliability
}

// Name returns the source identifier.
func (d Descriptor) Name() string { return d.SourceName }

// Priority returns the source rank, lower is more trusted.
func (d Descriptor) Priority() int { return d.Rank }

// Reliability returns the reliability class of the source.
func (d Descriptor) Reliability() internal.Reliability { return d.Reliable }

// Normalize maps a raw result onto partial records attributed to the adapter described by d.
// Records without a usable position are discarded.
func (d Descriptor) Normalize(raw RawResult) []internal.PartialRecord {
	switch r := raw.(type) {
	case ReadsbResult:
		return normalizeReadsb(r, d)
	case *ReadsbResult:
		if r == nil {
			return nil
		}
		return normalizeReadsb(*r, d)
	case OpenSkyResult:
		return normalizeOpenSky(r, d)
	case *OpenSkyResult:
		if r == nil {
			return nil
		}
		return normalizeOpenSky(*r, d)
	}
	return nil
}
