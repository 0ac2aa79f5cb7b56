package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modelsync/collab/internal/store"
	"github.com/modelsync/collab/internal/tracing"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Processor ProcessorConfig `yaml:"processor"`
	Store     StoreConfig     `yaml:"store"`
	Tracing   tracing.Config  `yaml:"tracing"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxConnections int           `yaml:"max_connections"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
}

// AuthConfig enables JWT verification of connection_init. An empty secret
// disables it.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Required  bool   `yaml:"required"`
}

type ProcessorConfig struct {
	// Workers bounds concurrent handler and render work; 0 means one per
	// logical CPU.
	Workers int `yaml:"workers"`

	// IdleTimeout is how long an unreferenced project stays loaded; 0
	// disposes it immediately.
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	EvictionInterval time.Duration `yaml:"eviction_interval"`
	PersistOnSubmit  bool          `yaml:"persist_on_submit"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
			KeepAlive:      15 * time.Second,
			WriteTimeout:   10 * time.Second,
			ReadTimeout:    60 * time.Second,
			SendBuffer:     64,
		},
		Processor: ProcessorConfig{
			IdleTimeout:      5 * time.Minute,
			EvictionInterval: 30 * time.Second,
			SubscriberBuffer: 16,
		},
		Store: StoreConfig{
			Driver: store.DriverFile,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to the defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AuthEnabled reports whether connection_init tokens are verified.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != ""
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections: must not be negative")
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.required: jwt_secret must be set")
	}
	if c.Processor.Workers < 0 {
		return fmt.Errorf("processor.workers: must not be negative")
	}
	if c.Processor.IdleTimeout < 0 {
		return fmt.Errorf("processor.idle_timeout: must not be negative")
	}
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverFile, store.DriverSQLite:
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	switch c.Tracing.Exporter {
	case tracing.ExporterNone, tracing.ExporterStdout, tracing.ExporterOTLP, "":
	default:
		return fmt.Errorf("tracing.exporter: unknown exporter %q", c.Tracing.Exporter)
	}
	return nil
}

// Diff lists the settings that differ between a and b, one line per field,
// as "section.field: old → new". Secrets are not printed.
func Diff(a, b *Config) []string {
	var changes []string
	diffStruct("", reflect.ValueOf(*a), reflect.ValueOf(*b), &changes)
	return changes
}

func diffStruct(prefix string, a, b reflect.Value, changes *[]string) {
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("yaml")
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		av, bv := a.Field(i), b.Field(i)
		if f.Type.Kind() == reflect.Struct {
			diffStruct(name, av, bv, changes)
			continue
		}
		if reflect.DeepEqual(av.Interface(), bv.Interface()) {
			continue
		}
		if name == "auth.jwt_secret" {
			*changes = append(*changes, name+": changed")
			continue
		}
		*changes = append(*changes, fmt.Sprintf("%s: %v → %v", name, av.Interface(), bv.Interface()))
	}
}
