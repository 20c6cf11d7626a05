// Package config loads blelink settings from a YAML file. Values missing
// from the file keep the defaults declared in the struct tags.
//
//	log_level: debug
//	heartbeat_period: 2s
//	connect_timeout: 10s
//	contracts:
//	  - name: lamp
//	    match: Lamp
//	    service: ffe0
//	    read: ffe1
//	    write: ffe2
//	    ota: {service: fff0, read: fff1, write: fff2}
//	    heartbeat: "AA 01"
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/manager"
)

// Config holds application configuration
type Config struct {
	LogLevel          string        `yaml:"log_level" default:"info"`
	HeartbeatPeriod   time.Duration `yaml:"heartbeat_period" default:"2s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"30s"`
	DiscoveryTimeout  time.Duration `yaml:"discovery_timeout" default:"0s"` // 0 disables
	EventBuffer       int           `yaml:"event_buffer" default:"100"`
	QueueSize         int           `yaml:"queue_size" default:"256"`
	WriteWithResponse bool          `yaml:"write_with_response" default:"false"`
	OutputFormat      string        `yaml:"output_format" default:"table"` // table, json

	Contracts []ContractConfig `yaml:"contracts"`
}

// EndpointConfig is a service with its notify and write characteristics.
type EndpointConfig struct {
	Service string `yaml:"service"`
	Read    string `yaml:"read"`
	Write   string `yaml:"write"`
}

// ContractConfig declares a service contract and the advertised-name
// fragment that selects it.
type ContractConfig struct {
	Name           string `yaml:"name"`
	Match          string `yaml:"match"` // "*" matches every named device
	EndpointConfig `yaml:",inline"`

	OTA       *EndpointConfig     `yaml:"ota,omitempty"`
	Notify    []string            `yaml:"notify,omitempty"`
	Services  map[string][]string `yaml:"services,omitempty"` // extra required characteristics per service
	Heartbeat HexBytes            `yaml:"heartbeat,omitempty"`
}

// HexBytes is a byte string written in hex. Spaces, colons and a 0x prefix are ignored.
type HexBytes []byte

// UnmarshalYAML decodes a hex scalar.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	b, err := ParseHex(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*h = b
	return nil
}

// MarshalYAML encodes as upper-case hex.
func (h HexBytes) MarshalYAML() (interface{}, error) {
	return strings.ToUpper(hex.EncodeToString(h)), nil
}

// ParseHex decodes "AA 01", "aa:01", "0xAA01" and "AA01" alike.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the log level, the durations and every contract.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.HeartbeatPeriod < 0 || c.ConnectTimeout < 0 || c.DiscoveryTimeout < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.OutputFormat != "table" && c.OutputFormat != "json" {
		errs = append(errs, fmt.Errorf("unsupported output format %q", c.OutputFormat))
	}
	if _, err := c.Catalog(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Contract converts the declaration into a normalized service contract.
func (cc ContractConfig) Contract() (*device.ServiceContract, error) {
	contract := &device.ServiceContract{
		Name: cc.Name,
		Primary: device.Endpoint{
			Service: cc.Service,
			Read:    cc.Read,
			Write:   cc.Write,
		},
		Extra:     cc.Services,
		Notify:    cc.Notify,
		Heartbeat: []byte(cc.Heartbeat),
	}
	if cc.OTA != nil {
		contract.Auxiliary = &device.Endpoint{
			Service: cc.OTA.Service,
			Read:    cc.OTA.Read,
			Write:   cc.OTA.Write,
		}
	}
	if err := contract.Validate(); err != nil {
		return nil, fmt.Errorf("contract %q: %w", cc.Name, err)
	}
	if _, err := device.ValidateUUID(cc.uuids()...); err != nil {
		return nil, fmt.Errorf("contract %q: %w", cc.Name, err)
	}
	return contract.Normalize(), nil
}

// uuids returns every UUID the declaration mentions.
func (cc ContractConfig) uuids() []string {
	var out []string
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" {
				out = append(out, id)
			}
		}
	}
	add(cc.Service, cc.Read, cc.Write)
	if cc.OTA != nil {
		add(cc.OTA.Service, cc.OTA.Read, cc.OTA.Write)
	}
	add(cc.Notify...)
	for svc, chars := range cc.Services {
		add(svc)
		add(chars...)
	}
	return out
}

// Catalog builds the contract catalog in declaration order.
func (c *Config) Catalog() (*device.ContractCatalog, error) {
	rules := make([]device.ContractRule, 0, len(c.Contracts))
	for _, cc := range c.Contracts {
		contract, err := cc.Contract()
		if err != nil {
			return nil, err
		}
		rules = append(rules, device.ContractRule{Match: cc.Match, Contract: contract})
	}
	return device.NewContractCatalog(rules...)
}

// ContractByName returns the declared contract called name.
func (c *Config) ContractByName(name string) (*device.ServiceContract, bool) {
	for _, cc := range c.Contracts {
		if cc.Name != name {
			continue
		}
		contract, err := cc.Contract()
		return contract, err == nil
	}
	return nil, false
}

// ManagerOptions translates the configuration into session manager options.
func (c *Config) ManagerOptions() (manager.Options, error) {
	catalog, err := c.Catalog()
	if err != nil {
		return manager.Options{}, err
	}
	return manager.Options{
		HeartbeatPeriod:   c.HeartbeatPeriod,
		ConnectTimeout:    c.ConnectTimeout,
		DiscoveryTimeout:  c.DiscoveryTimeout,
		EventBuffer:       c.EventBuffer,
		QueueSize:         c.QueueSize,
		WriteWithResponse: c.WriteWithResponse,
		Catalog:           catalog,
	}, nil
}
