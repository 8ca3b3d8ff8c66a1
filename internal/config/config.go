// Package config loads the airfuse configuration from flags, environment, an optional YAML file and
// defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/micutio/airfuse/internal/logging"
	"github.com/micutio/airfuse/internal/throttle"
)

const (
	// EnvPrefix is the prefix of all environment variables read by airfuse.
	EnvPrefix = "AIRFUSE"
	// DefaultConfigFile is read when present and no --config flag was given.
	DefaultConfigFile = "airfuse.yaml"
)

// Run modes.
const (
	ModeTUI    = "tui"
	ModeTicker = "ticker"
	ModeServe  = "serve"
)

// Flag names.
const (
	flagTicker   = "ticker"
	flagServe    = "serve"
	flagLatLon   = "latlon"
	flagRadius   = "radius"
	flagConfig   = "config"
	flagLogLevel = "log-level"
)

// Area is the monitored circle.
type Area struct {
	Lat      float64 `mapstructure:"lat"`
	Lon      float64 `mapstructure:"lon"`
	RadiusNM float64 `mapstructure:"radius_nm"`
}

// Cache configures the aggregator cache.
type Cache struct {
	TTL         time.Duration `mapstructure:"ttl"`
	StaleWindow time.Duration `mapstructure:"stale_window"`
}

// Adapter configures one feed.
type Adapter struct {
	Kind        string        `mapstructure:"kind"`
	URL         string        `mapstructure:"url"`
	Priority    int           `mapstructure:"priority"`
	Reliability string        `mapstructure:"reliability"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Throttle configures the three priority classes and the classification thresholds.
type Throttle struct {
	Critical   throttle.ClassConfig `mapstructure:"critical"`
	Normal     throttle.ClassConfig `mapstructure:"normal"`
	Low        throttle.ClassConfig `mapstructure:"low"`
	Thresholds throttle.Thresholds  `mapstructure:"thresholds"`
}

// Class returns the configuration of a priority class.
func (t Throttle) Class(class throttle.Class) throttle.ClassConfig {
	switch class {
	case throttle.Critical:
		return t.Critical
	case throttle.Low:
		return t.Low
	default:
		return t.Normal
	}
}

// Serve configures the outputs of serve mode.
type Serve struct {
	Addr        string `mapstructure:"addr"`
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`
}

// Tracing configures OpenTelemetry tracing.
type Tracing struct {
	Enabled bool `mapstructure:"enabled"`
}

// Config is the complete airfuse configuration.
type Config struct {
	Mode         string             `mapstructure:"-"`
	File         string             `mapstructure:"-"`
	Area         Area               `mapstructure:"area"`
	PollInterval time.Duration      `mapstructure:"poll_interval"`
	ForgetAfter  time.Duration      `mapstructure:"forget_after"`
	Cache        Cache              `mapstructure:"cache"`
	Adapters     map[string]Adapter `mapstructure:"adapters"`
	Throttle     Throttle           `mapstructure:"throttle"`
	Log          logging.Config     `mapstructure:"log"`
	Serve        Serve              `mapstructure:"serve"`
	Tracing      Tracing            `mapstructure:"tracing"`
}

// DefaultAdapters returns the feeds used when the configuration names none.
func DefaultAdapters() map[string]Adapter {
	return map[string]Adapter{
		"adsbfi": {
			Kind:        KindReadsb,
			URL:         "https://opendata.adsb.fi/api/v2/lat/{lat}/lon/{lon}/dist/{dist}",
			Priority:    1,
			Reliability: "high",
			Timeout:     4 * time.Second, //nolint:mnd // defaults
			RatePerSec:  1,
			Enabled:     true,
		},
		"adsblol": {
			Kind:        KindReadsb,
			URL:         "https://api.adsb.lol/v2/point/{lat}/{lon}/{dist}",
			Priority:    2, //nolint:mnd // defaults
			Reliability: "high",
			Timeout:     4 * time.Second, //nolint:mnd // defaults
			RatePerSec:  1,
			Enabled:     true,
		},
		"opensky": {
			Kind:        KindOpenSky,
			URL:         "https://opensky-network.org/api/states/all",
			Priority:    3, //nolint:mnd // defaults
			Reliability: "medium",
			Timeout:     6 * time.Second, //nolint:mnd // defaults
			RatePerSec:  0.1,             //nolint:mnd // anonymous opensky quota
			Enabled:     true,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("area.lat", 0.0)
	v.SetDefault("area.lon", 0.0)
	v.SetDefault("area.radius_nm", 150.0)        //nolint:mnd // defaults
	v.SetDefault("poll_interval", 5*time.Second) //nolint:mnd // defaults
	v.SetDefault("forget_after", 2*time.Minute)  //nolint:mnd // defaults
	v.SetDefault("cache.ttl", 5*time.Second)     //nolint:mnd // defaults
	v.SetDefault("cache.stale_window", time.Minute)

	for _, class := range throttle.Classes {
		cfg := throttle.DefaultClassConfig(class)
		prefix := "throttle." + class.String() + "."
		v.SetDefault(prefix+"max_queue_size", cfg.MaxQueueSize)
		v.SetDefault(prefix+"batch_size", cfg.BatchSize)
		v.SetDefault(prefix+"tick_interval", cfg.TickInterval)
	}

	th := throttle.DefaultThresholds()
	v.SetDefault("throttle.thresholds.critical_vertical_rate", th.CriticalVerticalRate)
	v.SetDefault("throttle.thresholds.critical_ground_speed", th.CriticalGroundSpeed)
	v.SetDefault("throttle.thresholds.low_ground_speed", th.LowGroundSpeed)
	v.SetDefault("throttle.thresholds.low_altitude", th.LowAltitude)
	v.SetDefault("throttle.thresholds.heading_change", th.HeadingChange)
	v.SetDefault("throttle.thresholds.speed_change", th.SpeedChange)

	logCfg := logging.DefaultConfig()
	v.SetDefault("log.level", logCfg.Level)
	v.SetDefault("log.format", logCfg.Format)
	v.SetDefault("log.output", logCfg.Output)
	v.SetDefault("log.no_color", logCfg.NoColor)

	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.nats_url", "")
	v.SetDefault("serve.nats_subject", "airfuse.batch")
	v.SetDefault("tracing.enabled", false)
}

// BindFlags registers the command line flags on flags.
func BindFlags(flags *pflag.FlagSet) {
	// Whether to launch the Ticker or TUI app.
	flags.BoolP(flagTicker, "t", false, "print aircraft updates on the command line without TUI")
	flags.Lookup(flagTicker).NoOptDefVal = "true"

	// Whether to serve updates via websocket, NATS and prometheus instead.
	flags.BoolP(flagServe, "s", false, "serve aircraft updates via websocket and NATS")
	flags.Lookup(flagServe).NoOptDefVal = "true"

	// Location to spot aircraft around, provided as lat,lon coordinates
	flags.Float64SliceP(flagLatLon, "l", []float64{0, 0}, "define the location where to spot aircraft")
	flags.Float64P(flagRadius, "r", 0, "radius around the location in nautical miles")
	flags.StringP(flagConfig, "c", "", "path to the YAML configuration file (default ./"+DefaultConfigFile+")")
	flags.String(flagLogLevel, "", "log level (trace, debug, info, warn, error)")
}

// Load builds the configuration. flags must have been registered with BindFlags and parsed.
func Load(flags *pflag.FlagSet) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file, err := readConfigFile(v, flags)
	if err != nil {
		return nil, err
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("load: unable to decode config: %w", err)
	}
	cfg.File = file
	if len(cfg.Adapters) == 0 {
		cfg.Adapters = DefaultAdapters()
	}

	mode, err := modeFrom(flags)
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	return cfg, nil
}

// loadEnvFiles loads environment variables from .env files. .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// readConfigFile reads the file given by --config, or the default file if it exists.
func readConfigFile(v *viper.Viper, flags *pflag.FlagSet) (string, error) {
	path, _ := flags.GetString(flagConfig)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("load: unable to read config file %s: %w", path, err)
	}
	return path, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlag("log.level", flags.Lookup(flagLogLevel)); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := v.BindPFlag("area.radius_nm", flags.Lookup(flagRadius)); err != nil {
		return fmt.Errorf("load: %w", err)
	}

	if flags.Changed(flagLatLon) {
		latLon, err := flags.GetFloat64Slice(flagLatLon)
		if err != nil {
			return fmt.Errorf("load: %w", err)
		}
		if len(latLon) != 2 { //nolint:mnd // lat,lon
			return &ValidationError{Field: flagLatLon, Reason: "expected lat,lon"}
		}
		v.Set("area.lat", latLon[0])
		v.Set("area.lon", latLon[1])
	}
	return nil
}

func modeFrom(flags *pflag.FlagSet) (string, error) {
	ticker, _ := flags.GetBool(flagTicker)
	serve, _ := flags.GetBool(flagServe)
	switch {
	case ticker && serve:
		return "", &ValidationError{Field: "mode", Reason: "--ticker and --serve are mutually exclusive"}
	case ticker:
		return ModeTicker, nil
	case serve:
		return ModeServe, nil
	}
	return ModeTUI, nil
}
