package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/wricardo/kartrace/game/race"
)

var (
	ErrConfigNotFound = errors.New("configuration not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "KART_"

// Duration is a time.Duration that reads and writes JSON strings such as "5m".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// plain numbers are nanoseconds
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"5s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds every server tunable
type Config struct {
	ListenAddr string `json:"listen_addr" validate:"required"`
	HTTPAddr   string `json:"http_addr"`

	Slots          int `json:"slots" validate:"min=2,max=64"`
	VehicleOptions int `json:"vehicle_options" validate:"min=1"`
	MinPlayers     int `json:"min_players" validate:"min=2,ltefield=Slots"`

	LivenessTimeout Duration `json:"liveness_timeout" validate:"gt=0"`
	SweepInterval   Duration `json:"sweep_interval" validate:"gt=0"`

	CollisionTolerance Duration `json:"collision_tolerance" validate:"gte=0"`
	CollisionRetention Duration `json:"collision_retention" validate:"gt=0"`
	TelemetryEpsilon   float64  `json:"telemetry_epsilon" validate:"gte=0"`
	TelemetryRate      float64  `json:"telemetry_rate" validate:"gte=0"`
	TelemetryBurst     int      `json:"telemetry_burst" validate:"gte=0"`

	SendBuffer int `json:"send_buffer" validate:"min=1"`

	StoreDriver string `json:"store_driver" validate:"oneof=sqlite3 postgres memory"`
	StoreDSN    string `json:"store_dsn" validate:"required_unless=StoreDriver memory"`

	LogLevel string `json:"log_level" validate:"oneof=trace debug info warn warning error fatal panic"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		ListenAddr:         ":5000",
		HTTPAddr:           ":8080",
		Slots:              race.DefaultSlots,
		VehicleOptions:     race.DefaultVehicleOptions,
		MinPlayers:         race.DefaultMinPlayers,
		LivenessTimeout:    Duration(5 * time.Minute),
		SweepInterval:      Duration(5 * time.Second),
		CollisionTolerance: Duration(250 * time.Millisecond),
		CollisionRetention: Duration(10 * time.Second),
		TelemetryEpsilon:   0.01,
		TelemetryRate:      60,
		TelemetryBurst:     120,
		SendBuffer:         256,
		StoreDriver:        "sqlite3",
		StoreDSN:           "kartrace.db",
		LogLevel:           "info",
	}
}

// Load builds a Config from defaults, the optional JSON file at path, the
// .env file in the working directory and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// a missing .env is fine; existing variables win over it
	_ = godotenv.Load()

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from KART_* variables looked up through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("HTTP_ADDR", &c.HTTPAddr)
	num("SLOTS", &c.Slots)
	num("VEHICLE_OPTIONS", &c.VehicleOptions)
	num("MIN_PLAYERS", &c.MinPlayers)
	dur("LIVENESS_TIMEOUT", &c.LivenessTimeout)
	dur("SWEEP_INTERVAL", &c.SweepInterval)
	dur("COLLISION_TOLERANCE", &c.CollisionTolerance)
	dur("COLLISION_RETENTION", &c.CollisionRetention)
	float("TELEMETRY_EPSILON", &c.TelemetryEpsilon)
	float("TELEMETRY_RATE", &c.TelemetryRate)
	num("TELEMETRY_BURST", &c.TelemetryBurst)
	num("SEND_BUFFER", &c.SendBuffer)
	str("STORE_DRIVER", &c.StoreDriver)
	str("STORE_DSN", &c.StoreDSN)
	str("LOG_LEVEL", &c.LogLevel)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the field constraints of c.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
