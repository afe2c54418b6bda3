package bridge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can say "30s" or "10m".
// Bare numbers are read as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// Numeric scalars also decode into a string, so dispatch on the
	// node tag rather than trying the string branch first.
	if value.Tag == "!!int" || value.Tag == "!!float" {
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("invalid duration value on line %d", value.Line)
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value on line %d", value.Line)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LinkConfig identifies one radio.
type LinkConfig struct {
	Port string `yaml:"port"`
}

// ConnectionConfig covers connect/reconnect retry behavior, shared by
// both links.
type ConnectionConfig struct {
	MaxRetries    int      `yaml:"max_retries"`
	InitialDelay  Duration `yaml:"initial_delay"`
	ConnectSettle Duration `yaml:"connect_settle"`
}

// DedupConfig bounds the deduplication tracker.
type DedupConfig struct {
	MaxEntries int      `yaml:"max_entries"`
	MaxAge     Duration `yaml:"max_age"`
}

// HealthConfig drives the health monitor.
type HealthConfig struct {
	Interval         Duration `yaml:"interval"`
	FailureThreshold int      `yaml:"failure_threshold"`
	RebootSettle     Duration `yaml:"reboot_settle"`
}

// StatusConfig drives the status reporter.
type StatusConfig struct {
	Interval Duration `yaml:"interval"`
	// File, when set, receives the latest snapshot as JSON on every
	// reporting tick (atomic tmp+rename write).
	File string `yaml:"file"`
}

// HTTPConfig configures the status API server. An empty Listen disables
// it.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// AuthSecret, when set, requires a bearer token on the status
	// route.
	AuthSecret string `yaml:"auth_secret"`
}

// Config is the bridge daemon's full configuration.
type Config struct {
	// Transport names a registered radio transport ("serial" in
	// production, "loopback" for development).
	Transport  string           `yaml:"transport"`
	LinkA      LinkConfig       `yaml:"link_a"`
	LinkB      LinkConfig       `yaml:"link_b"`
	Connection ConnectionConfig `yaml:"connection"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Health     HealthConfig     `yaml:"health"`
	Status     StatusConfig     `yaml:"status"`
	HTTP       HTTPConfig       `yaml:"http"`

	// QueueSize bounds each link's inbound queue; a full queue drops
	// the newest message rather than blocking the radio's I/O thread.
	QueueSize int `yaml:"queue_size"`
}

// LoadConfig reads a YAML config file and applies defaults. Validation
// is left to the caller, after any port auto-detection has filled in the
// blanks.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults sets sensible default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Transport == "" {
		c.Transport = "serial"
	}
	if c.Connection.MaxRetries <= 0 {
		c.Connection.MaxRetries = 5
	}
	if c.Connection.InitialDelay <= 0 {
		c.Connection.InitialDelay = Duration(2 * time.Second)
	}
	if c.Connection.ConnectSettle == 0 {
		c.Connection.ConnectSettle = Duration(2 * time.Second)
	}
	if c.Dedup.MaxEntries <= 0 {
		c.Dedup.MaxEntries = 1000
	}
	if c.Dedup.MaxAge <= 0 {
		c.Dedup.MaxAge = Duration(10 * time.Minute)
	}
	if c.Health.Interval <= 0 {
		c.Health.Interval = Duration(60 * time.Second)
	}
	if c.Health.FailureThreshold <= 0 {
		c.Health.FailureThreshold = 3
	}
	if c.Health.RebootSettle == 0 {
		c.Health.RebootSettle = Duration(5 * time.Second)
	}
	if c.Status.Interval <= 0 {
		c.Status.Interval = Duration(30 * time.Second)
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.LinkA.Port == "" {
		return errors.New("link_a.port cannot be empty")
	}
	if c.LinkB.Port == "" {
		return errors.New("link_b.port cannot be empty")
	}
	if c.LinkA.Port == c.LinkB.Port {
		return fmt.Errorf("link_a and link_b cannot share port %q", c.LinkA.Port)
	}
	return nil
}
