// Package config loads the CLI demo's bus/device layout from a YAML
// file, so a fleet of PDs can be described declaratively instead of
// passed as repeated flags.
//
// Grounded on barnettlynn-nfctools/sdmconfig/internal/config/config.go's
// yaml.v3 decode-then-validate shape: KnownFields(true) to catch typos,
// a struct tree mirroring the file layout, and field-by-field
// validation producing one readable error per problem.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes every bus and the PDs on it.
type Config struct {
	Buses []BusConfig `yaml:"buses"`
}

// BusConfig describes one transport and the PDs polled over it.
type BusConfig struct {
	ID      string         `yaml:"id"`
	Kind    string         `yaml:"kind"` // "serial" or "tcp"
	Device  string         `yaml:"device"`
	Baud    uint32         `yaml:"baud"`
	Addr    string         `yaml:"addr"` // host:port, for kind=tcp
	RS485   bool           `yaml:"rs485"`
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one PD.
type DeviceConfig struct {
	Address byte   `yaml:"address"`
	UseCRC  bool   `yaml:"use_crc"`
	UseSCS  bool   `yaml:"use_scs"`
	SCBKHex string `yaml:"scbk_hex"`
}

// Load reads and validates a Config from path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every bus and device entry is well-formed.
func (c *Config) Validate() error {
	if len(c.Buses) == 0 {
		return fmt.Errorf("config: at least one bus is required")
	}
	seenBusIDs := make(map[string]bool)
	for i, b := range c.Buses {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("config: buses[%d].id is required", i)
		}
		if seenBusIDs[b.ID] {
			return fmt.Errorf("config: duplicate bus id %q", b.ID)
		}
		seenBusIDs[b.ID] = true

		switch b.Kind {
		case "serial":
			if strings.TrimSpace(b.Device) == "" {
				return fmt.Errorf("config: buses[%d] (%s): device is required for kind=serial", i, b.ID)
			}
			if b.Baud == 0 {
				return fmt.Errorf("config: buses[%d] (%s): baud is required for kind=serial", i, b.ID)
			}
		case "tcp":
			if strings.TrimSpace(b.Addr) == "" {
				return fmt.Errorf("config: buses[%d] (%s): addr is required for kind=tcp", i, b.ID)
			}
		default:
			return fmt.Errorf("config: buses[%d] (%s): unknown kind %q, want serial or tcp", i, b.ID, b.Kind)
		}

		if len(b.Devices) == 0 {
			return fmt.Errorf("config: buses[%d] (%s): at least one device is required", i, b.ID)
		}
		seenAddrs := make(map[byte]bool)
		for j, d := range b.Devices {
			if seenAddrs[d.Address] {
				return fmt.Errorf("config: buses[%d] (%s): duplicate device address %#x at index %d", i, b.ID, d.Address, j)
			}
			seenAddrs[d.Address] = true
		}
	}
	return nil
}
