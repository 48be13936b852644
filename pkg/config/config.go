package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lwm2m-go/regsync/pkg/dm"
	"github.com/lwm2m-go/regsync/pkg/exchange"
	"github.com/lwm2m-go/regsync/pkg/wire"
)

// Configuration errors.
var (
	ErrMissingEndpoint  = errors.New("endpoint is required")
	ErrInvalidLifetime  = errors.New("lifetime must be positive")
	ErrNoServers        = errors.New("at least one server is required")
	ErrDuplicateServer  = errors.New("duplicate server")
	ErrMissingAddress   = errors.New("server address is required unless discovery is enabled")
	ErrSharedSecurity   = errors.New("security instance bound to more than one server")
	ErrInvalidExchange  = errors.New("invalid exchange parameters")
	ErrInvalidInstances = errors.New("invalid instance list")
)

// DefaultLifetime is the default registration lifetime in seconds.
const DefaultLifetime = 86400

// Config is the client configuration.
type Config struct {
	// Endpoint is the client endpoint name sent with Register.
	Endpoint string `yaml:"endpoint"`

	// Lifetime is the requested registration lifetime in seconds.
	Lifetime uint32 `yaml:"lifetime"`

	// Version is the protocol version sent with Register.
	Version string `yaml:"version"`

	// Binding is the binding mode. "U" is omitted from Register.
	Binding string `yaml:"binding"`

	// Servers lists the management servers, one session each.
	Servers []ServerConfig `yaml:"servers"`

	// Instances are the object instances enabled at startup, as "/O/I"
	// paths. Ignored when a registry snapshot is restored.
	Instances []string `yaml:"instances"`

	// Exchange holds the retransmission parameters.
	Exchange ExchangeConfig `yaml:"exchange"`

	// Discovery configures DNS-SD lookup of servers without an address.
	Discovery DiscoveryConfig `yaml:"discovery"`

	// StateFile is where session records are written. Empty disables it.
	StateFile string `yaml:"state_file"`

	// SnapshotFile is where the registry content is persisted. Empty
	// disables it.
	SnapshotFile string `yaml:"snapshot_file"`

	// ProtocolLog is the CBOR protocol log path. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`
}

// ServerConfig describes one management server.
type ServerConfig struct {
	// Name identifies the server in logs and commands.
	Name string `yaml:"name"`

	// Address is the UDP host:port of the server.
	Address string `yaml:"address"`

	// SecurityInstance is the Security object instance of this server.
	SecurityInstance dm.InstanceID `yaml:"security_instance"`

	// ServerInstance is the paired Server object instance.
	ServerInstance dm.InstanceID `yaml:"server_instance"`
}

// ExchangeConfig holds the retransmission parameters.
type ExchangeConfig struct {
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	AckRandomFactor  float64       `yaml:"ack_random_factor"`
	MaxRetransmit    int           `yaml:"max_retransmit"`
	ExchangeLifetime time.Duration `yaml:"exchange_lifetime"`
}

// DiscoveryConfig configures server discovery.
type DiscoveryConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns a Config with defaults and no servers.
func Default() Config {
	return Config{
		Lifetime: DefaultLifetime,
		Version:  wire.DefaultVersion,
		Binding:  wire.DefaultBinding,
		Instances: []string{
			dm.NewRef(dm.ObjectSecurity, 0).Path(),
			dm.NewRef(dm.ObjectServer, 0).Path(),
			dm.NewRef(dm.ObjectDevice, 0).Path(),
		},
		Exchange: ExchangeConfig{
			AckTimeout:       exchange.DefaultAckTimeout,
			AckRandomFactor:  exchange.DefaultAckRandomFactor,
			MaxRetransmit:    exchange.DefaultMaxRetransmit,
			ExchangeLifetime: exchange.DefaultExchangeLifetime,
		},
		Discovery: DiscoveryConfig{
			Timeout: 5 * time.Second,
		},
	}
}

// LoadError reports a configuration file that could not be loaded.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = e.File + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Message: "invalid configuration", Cause: err}
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	if c.Lifetime == 0 {
		return ErrInvalidLifetime
	}
	if len(c.Servers) == 0 {
		return ErrNoServers
	}

	names := make(map[string]bool, len(c.Servers))
	securities := make(map[dm.InstanceID]string, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("server %d: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateServer, s.Name)
		}
		names[s.Name] = true

		if s.Address == "" && !c.Discovery.Enabled {
			return fmt.Errorf("server %s: %w", s.Name, ErrMissingAddress)
		}
		if other, ok := securities[s.SecurityInstance]; ok {
			return fmt.Errorf("%w: instance %d used by %s and %s", ErrSharedSecurity, s.SecurityInstance, other, s.Name)
		}
		securities[s.SecurityInstance] = s.Name
	}

	e := c.Exchange
	if e.AckTimeout <= 0 || e.AckRandomFactor < 1 || e.MaxRetransmit < 0 || e.ExchangeLifetime <= 0 {
		return ErrInvalidExchange
	}

	if _, err := c.Objects(); err != nil {
		return err
	}
	return nil
}

// Objects parses Instances into a set.
func (c *Config) Objects() (dm.Set, error) {
	refs := make([]dm.Ref, 0, len(c.Instances))
	for _, p := range c.Instances {
		ref, err := dm.ParsePath(p)
		if err != nil {
			return dm.Set{}, fmt.Errorf("%w: %w", ErrInvalidInstances, err)
		}
		refs = append(refs, ref)
	}
	return dm.NewSet(refs...), nil
}

// DriverConfig converts the retransmission parameters for the exchange driver.
func (c *Config) DriverConfig() exchange.Config {
	return exchange.Config{
		AckTimeout:       c.Exchange.AckTimeout,
		AckRandomFactor:  c.Exchange.AckRandomFactor,
		MaxRetransmit:    c.Exchange.MaxRetransmit,
		ExchangeLifetime: c.Exchange.ExchangeLifetime,
	}
}

// Server returns the server with the given name.
func (c *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerConfig{}, false
}
