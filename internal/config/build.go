package config

import (
	"fmt"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/aggregate"
	"github.com/micutio/airfuse/internal/feed"
	"github.com/micutio/airfuse/internal/pipeline"
	"github.com/micutio/airfuse/internal/throttle"
)

// Adapter kinds.
const (
	KindReadsb  = "readsb"
	KindOpenSky = "opensky"
)

func knownKind(kind string) bool {
	return kind == KindReadsb || kind == KindOpenSky
}

// MonitoredArea returns the bounding box of the configured circle.
func (c *Config) MonitoredArea() internal.Area {
	return internal.AreaAround(c.Area.Lat, c.Area.Lon, c.Area.RadiusNM)
}

// BuildAdapters creates one feed adapter per configured adapter, disabled ones included, sorted by
// name. The returned options carry the per-adapter settings and the cache configuration.
func (c *Config) BuildAdapters() ([]aggregate.Adapter, []aggregate.Option, error) {
	names := c.adapterNames()
	adapters := make([]aggregate.Adapter, 0, len(names))
	opts := make([]aggregate.Option, 0, len(names)+1)

	for _, name := range names {
		a := c.Adapters[name]
		reliability, ok := internal.ParseReliability(a.Reliability)
		if !ok {
			return nil, nil, &ValidationError{Field: "adapters." + name + ".reliability", Reason: "unknown reliability"}
		}
		client := feed.ClientConfig{RatePerSec: a.RatePerSec}

		switch a.Kind {
		case KindReadsb:
			adapters = append(adapters, feed.NewReadsb(feed.ReadsbConfig{
				Name:        name,
				Priority:    a.Priority,
				Reliability: reliability,
				URLTemplate: a.URL,
				Client:      client,
			}))
		case KindOpenSky:
			adapters = append(adapters, feed.NewOpenSky(feed.OpenSkyConfig{
				Name:        name,
				Priority:    a.Priority,
				Reliability: reliability,
				BaseURL:     a.URL,
				Client:      client,
			}))
		default:
			return nil, nil, fmt.Errorf("buildAdapters: %w", &ValidationError{
				Field:  "adapters." + name + ".kind",
				Reason: fmt.Sprintf("unknown adapter kind %q", a.Kind),
			})
		}

		opts = append(opts, aggregate.WithAdapterConfig(name, aggregate.AdapterConfig{
			Enabled: a.Enabled,
			Timeout: a.Timeout,
		}))
	}

	opts = append(opts, aggregate.WithCache(c.Cache.TTL, c.Cache.StaleWindow))
	return adapters, opts, nil
}

// ThrottleOptions returns the throttler options for the configured classes and thresholds.
func (c *Config) ThrottleOptions() []throttle.Option {
	opts := make([]throttle.Option, 0, len(throttle.Classes)+1)
	for _, class := range throttle.Classes {
		opts = append(opts, throttle.WithClassConfig(class, c.Throttle.Class(class)))
	}
	return append(opts, throttle.WithThresholds(c.Throttle.Thresholds))
}

// PollerOptions returns the poller options for the configured cadence.
func (c *Config) PollerOptions() []pipeline.Option {
	return []pipeline.Option{
		pipeline.WithInterval(c.PollInterval),
		pipeline.WithForgetAfter(c.ForgetAfter),
	}
}
