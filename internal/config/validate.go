package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/micutio/airfuse/internal"
	"github.com/micutio/airfuse/internal/throttle"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError describes one invalid configuration value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate checks the configuration and returns all problems found, joined.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.Area.Lat < -90 || c.Area.Lat > 90 {
		invalid("area.lat", "%v is not a latitude", c.Area.Lat)
	}
	if c.Area.Lon < -180 || c.Area.Lon > 180 {
		invalid("area.lon", "%v is not a longitude", c.Area.Lon)
	}
	if c.Area.RadiusNM <= 0 {
		invalid("area.radius_nm", "must be positive")
	}
	if c.PollInterval <= 0 {
		invalid("poll_interval", "must be positive")
	}
	if c.ForgetAfter <= 0 {
		invalid("forget_after", "must be positive")
	}
	if c.Cache.TTL <= 0 {
		invalid("cache.ttl", "must be positive")
	}
	if c.Cache.StaleWindow < 0 {
		invalid("cache.stale_window", "must not be negative")
	}

	for _, class := range throttle.Classes {
		cfg := c.Throttle.Class(class)
		field := "throttle." + class.String()
		if cfg.MaxQueueSize <= 0 {
			invalid(field+".max_queue_size", "must be positive")
		}
		if cfg.BatchSize <= 0 {
			invalid(field+".batch_size", "must be positive")
		}
		if cfg.BatchSize > cfg.MaxQueueSize {
			invalid(field+".batch_size", "%d exceeds max_queue_size %d", cfg.BatchSize, cfg.MaxQueueSize)
		}
		if cfg.TickInterval <= 0 {
			invalid(field+".tick_interval", "must be positive")
		}
	}

	th := c.Throttle.Thresholds
	for _, bound := range []struct {
		field string
		value float64
	}{
		{"critical_vertical_rate", th.CriticalVerticalRate},
		{"critical_ground_speed", th.CriticalGroundSpeed},
		{"low_ground_speed", th.LowGroundSpeed},
		{"low_altitude", th.LowAltitude},
		{"heading_change", th.HeadingChange},
		{"speed_change", th.SpeedChange},
	} {
		if bound.value <= 0 {
			invalid("throttle.thresholds."+bound.field, "must be positive")
		}
	}
	if th.LowGroundSpeed > 0 && th.CriticalGroundSpeed > 0 && th.LowGroundSpeed >= th.CriticalGroundSpeed {
		invalid("throttle.thresholds.low_ground_speed", "%v must be below critical_ground_speed %v",
			th.LowGroundSpeed, th.CriticalGroundSpeed)
	}

	enabled := 0
	for _, name := range c.adapterNames() {
		a := c.Adapters[name]
		field := "adapters." + name
		if !knownKind(a.Kind) {
			invalid(field+".kind", "unknown adapter kind %q", a.Kind)
		}
		if _, ok := internal.ParseReliability(a.Reliability); !ok {
			invalid(field+".reliability", "unknown reliability %q", a.Reliability)
		}
		if a.URL == "" {
			invalid(field+".url", "must not be empty")
		}
		if a.Timeout < 0 {
			invalid(field+".timeout", "must not be negative")
		}
		if a.RatePerSec < 0 {
			invalid(field+".rate_per_sec", "must not be negative")
		}
		if a.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		invalid("adapters", "no adapter enabled")
	}

	return errors.Join(errs...)
}

func (c *Config) adapterNames() []string {
	names := make([]string, 0, len(c.Adapters))
	for name := range c.Adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
