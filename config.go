package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/john/monox_bridge/bridge"
	"github.com/john/monox_bridge/internal/env"
	"github.com/john/monox_bridge/printer"
	"github.com/john/monox_bridge/uartwifi"
)

// Poll interval bounds in seconds. Faster polling overloads the printer's
// Wi-Fi module.
const (
	minPollInterval = 10
	maxPollInterval = 60
)

type Config struct {
	Printer PrinterConfig `yaml:"printer"`
	Server  ServerConfig  `yaml:"server"`
}

type PrinterConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Timeout bounds one request, connect plus read.
	Timeout time.Duration `yaml:"timeout"`
	// PollInterval is how often to poll printer status in seconds.
	PollInterval      int           `yaml:"poll_interval"`
	NoExtras          bool          `yaml:"no_extras"`
	UnitPolicy        string        `yaml:"unit_policy"`
	SecondsMarker     string        `yaml:"seconds_marker"`
	ProgressTolerance float64       `yaml:"progress_tolerance"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	SetupRetry        time.Duration `yaml:"setup_retry"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Printer: PrinterConfig{
			Port:              uartwifi.Port,
			Timeout:           uartwifi.DefaultTimeout,
			PollInterval:      maxPollInterval,
			UnitPolicy:        printer.PolicyModel,
			SecondsMarker:     printer.DefaultSecondsMarker,
			ProgressTolerance: printer.DefaultProgressTolerance,
			FailureThreshold:  bridge.DefaultFailureThreshold,
			SetupRetry:        5 * time.Minute,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    7130,
		},
	}
}

// LoadConfig reads path over the defaults, then applies MONOX_* environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	// No-op when the command already loaded it; a load error was logged there.
	_ = env.Ensure(filepath.Dir(path))

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrapf(err, "parsing config %s", path)
			}
		case os.IsNotExist(err):
			log.Debug().Str("path", path).Msg("no config file, using defaults and environment")
		default:
			return nil, errors.Wrap(err, "reading config")
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	p := &c.Printer
	p.Host = env.String("MONOX_HOST", p.Host)
	p.Port = env.Int("MONOX_PORT", p.Port)
	p.PollInterval = env.Int("MONOX_POLL_INTERVAL", p.PollInterval)
	p.NoExtras = env.Bool("MONOX_NO_EXTRAS", p.NoExtras)
	p.UnitPolicy = env.String("MONOX_UNIT_POLICY", p.UnitPolicy)
	p.Timeout = env.Duration("MONOX_TIMEOUT", p.Timeout)

	if listen := env.String("MONOX_LISTEN", ""); listen != "" {
		host, port, err := net.SplitHostPort(listen)
		if err != nil {
			return errors.Wrapf(err, "MONOX_LISTEN %q", listen)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return errors.Wrapf(err, "MONOX_LISTEN %q", listen)
		}
		c.Server.Host, c.Server.Port = host, n
	}
	return nil
}

func (c *Config) normalize() {
	p := &c.Printer
	if p.PollInterval < minPollInterval || p.PollInterval > maxPollInterval {
		clamped := min(max(p.PollInterval, minPollInterval), maxPollInterval)
		log.Warn().Int("requested", p.PollInterval).Int("using", clamped).
			Msg("poll interval out of range")
		p.PollInterval = clamped
	}
	if p.Timeout <= 0 {
		p.Timeout = uartwifi.DefaultTimeout
	}
	if p.SetupRetry <= 0 {
		p.SetupRetry = 5 * time.Minute
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = bridge.DefaultFailureThreshold
	}
}

// Validate rejects settings the bridge cannot start with.
func (c *Config) Validate() error {
	if c.Printer.Host == "" {
		return errors.New("printer.host is required (or set MONOX_HOST)")
	}
	if c.Printer.Port <= 0 || c.Printer.Port > 65535 {
		return errors.Errorf("printer.port %d out of range", c.Printer.Port)
	}
	if _, err := c.UnitPolicy(); err != nil {
		return err
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errors.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// UnitPolicy builds the configured remaining-time unit policy.
func (c *Config) UnitPolicy() (printer.UnitPolicy, error) {
	return printer.NewUnitPolicy(c.Printer.UnitPolicy, c.Printer.SecondsMarker, c.Printer.ProgressTolerance)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Printer.PollInterval) * time.Second
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
