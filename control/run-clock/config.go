package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes how the clock is wired up.  Everything has a default that matches the
// reference board, so an empty file (or no file at all) works.
type Config struct {
	// Bus is how frames reach the shift registers: "gpio" bit-bangs the pins below, "spidev"
	// uses a Linux spidev device, "spi" uses a periph.io SPI port, and "nop" draws nothing
	// (the /display.png preview still works).
	Bus string `yaml:"bus"`
	// SPI is the spidev path for "spidev" or the periph.io port name for "spi".
	SPI  string `yaml:"spi"`
	Pins Pins   `yaml:"pins"`

	I2C I2C `yaml:"i2c"`

	Store Store `yaml:"store"`

	// Location is the time zone the clock shows, as an IANA name.  Empty means the system's.
	Location string `yaml:"location"`

	Chrony string `yaml:"chrony"`
	Gpsd   string `yaml:"gpsd"`

	Watchdog Watchdog `yaml:"watchdog"`

	HTTP HTTP `yaml:"http"`
}

// Pins are gpio pin names, as understood by gpioreg.
type Pins struct {
	Data       string `yaml:"data"`
	Clock      string `yaml:"clock"`
	Latch      string `yaml:"latch"`
	Enable     string `yaml:"enable"`
	Buzzer     string `yaml:"buzzer"`
	EncoderCLK string `yaml:"encoder_clk"`
	EncoderDT  string `yaml:"encoder_dt"`
	Button     string `yaml:"button"`
}

// I2C locates the temperature sensor.  An empty Bus means the first one.
type I2C struct {
	Bus     string `yaml:"bus"`
	Address uint16 `yaml:"address"`
	// Disabled skips the sensor entirely.
	Disabled bool `yaml:"disabled"`
}

// Store is where settings are kept: "memory", "file" or "sqlite".
type Store struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

// Watchdog is the hardware watchdog device.  An empty Device disables it.
type Watchdog struct {
	Device   string        `yaml:"device"`
	Interval time.Duration `yaml:"interval"`
}

// HTTP is the debug server.
type HTTP struct {
	Bind string `yaml:"bind"`
	// Advertise is the mDNS instance name; empty turns off advertising.
	Advertise string `yaml:"advertise"`
}

// DefaultConfig is the reference board: a BeagleBone Black with the registers on SPI1.
func DefaultConfig() Config {
	return Config{
		Bus: "spidev",
		SPI: "/dev/spidev1.0",
		Pins: Pins{
			Data:       "P9_18",
			Clock:      "P9_22",
			Latch:      "P9_12",
			Buzzer:     "P9_14",
			EncoderCLK: "P8_7",
			EncoderDT:  "P8_8",
			Button:     "P8_9",
		},
		I2C:    I2C{Address: 0x76},
		Store:  Store{Kind: "sqlite", Path: "/var/lib/nixie-clock/options.db"},
		Chrony: "localhost:323",
		Gpsd:   "localhost:2947",
		Watchdog: Watchdog{
			Interval: 10 * time.Second,
		},
		HTTP: HTTP{Bind: ":8080", Advertise: "nixie-clock"},
	}
}

// LoadConfig reads a YAML file over the defaults.  An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the parts of the config that can be checked without hardware.
func (c Config) Validate() error {
	var errs []error
	switch c.Bus {
	case "gpio":
		if c.Pins.Data == "" || c.Pins.Clock == "" || c.Pins.Latch == "" {
			errs = append(errs, errors.New("gpio bus needs data, clock and latch pins"))
		}
	case "spidev", "spi":
		if c.Pins.Latch == "" {
			errs = append(errs, fmt.Errorf("%s bus needs a latch pin", c.Bus))
		}
	case "nop":
	default:
		errs = append(errs, fmt.Errorf("unknown bus %q", c.Bus))
	}
	switch c.Store.Kind {
	case "memory":
	case "file", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("%s store needs a path", c.Store.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store kind %q", c.Store.Kind))
	}
	if c.Location != "" {
		if _, err := time.LoadLocation(c.Location); err != nil {
			errs = append(errs, fmt.Errorf("location: %w", err))
		}
	}
	if c.Watchdog.Device != "" && c.Watchdog.Interval <= 0 {
		errs = append(errs, errors.New("watchdog interval must be positive"))
	}
	return errors.Join(errs...)
}
