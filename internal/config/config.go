// Package config handles loading and validating the YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/esfeed/internal/demux"
	"github.com/zsiec/esfeed/internal/media"
	"github.com/zsiec/esfeed/internal/ring"
)

// Config is the root application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	// Jobs bounds how many streams are parsed at once.
	Jobs    int    `yaml:"jobs"`
	Inspect bool   `yaml:"inspect"`
	OutDir  string `yaml:"out_dir"`

	Defaults StreamDefaults          `yaml:"defaults"`
	Streams  map[string]StreamConfig `yaml:"streams"`
}

// Size is a byte count that accepts humanized values such as "16MiB".
type Size int

func (s *Size) UnmarshalYAML(n *yaml.Node) error {
	v, err := humanize.ParseBytes(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*s = Size(v)
	return nil
}

func (s Size) String() string { return humanize.IBytes(uint64(s)) }

// StreamDefaults holds default values applied to every stream.
type StreamDefaults struct {
	Codec        string `yaml:"codec"`     // "auto", "h264", "h265", "av1"
	Container    string `yaml:"container"` // "auto", "raw", "ivf"
	RingSize     Size   `yaml:"ring_size"`
	UnitCapacity Size   `yaml:"unit_capacity"`
}

// StreamConfig holds per-stream settings. Pointer fields allow distinguishing
// "not set" from zero values so the defaults layer works correctly.
type StreamConfig struct {
	Path string `yaml:"path"`

	Codec        *string `yaml:"codec,omitempty"`
	Container    *string `yaml:"container,omitempty"`
	RingSize     *Size   `yaml:"ring_size,omitempty"`
	UnitCapacity *Size   `yaml:"unit_capacity,omitempty"`
}

// Effective returns a resolved copy where nil fields are filled from
// defaults. Names are assumed valid; Parse rejects unknown ones.
func (c StreamConfig) Effective(d StreamDefaults) ResolvedStream {
	codec, container := d.Codec, d.Container
	r := ResolvedStream{
		Path:         c.Path,
		RingSize:     int(d.RingSize),
		UnitCapacity: int(d.UnitCapacity),
	}
	if c.Codec != nil {
		codec = *c.Codec
	}
	if c.Container != nil {
		container = *c.Container
	}
	if c.RingSize != nil {
		r.RingSize = int(*c.RingSize)
	}
	if c.UnitCapacity != nil {
		r.UnitCapacity = int(*c.UnitCapacity)
	}
	r.Codec, _ = media.ParseCodec(codec)
	r.Container, _ = media.ParseContainer(container)
	return r
}

// ResolvedStream is a fully-resolved stream configuration.
type ResolvedStream struct {
	Path         string
	Codec        media.Codec
	Container    media.Container
	RingSize     int
	UnitCapacity int
}

// Options converts the resolved settings to parser options.
func (r ResolvedStream) Options() demux.Options {
	return demux.Options{
		Codec:        r.Codec,
		Container:    r.Container,
		RingSize:     r.RingSize,
		UnitCapacity: r.UnitCapacity,
	}
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
// Environment variables in the form ${VAR} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields. ESFEED_LOG_LEVEL and ESFEED_RING_SIZE
// override the file.
func applyDefaults(cfg *Config) error {
	cfg.LogLevel = envOr("ESFEED_LOG_LEVEL", cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Jobs == 0 {
		cfg.Jobs = 4
	}

	d := &cfg.Defaults
	if v := os.Getenv("ESFEED_RING_SIZE"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("config: ESFEED_RING_SIZE: %w", err)
		}
		d.RingSize = Size(n)
	}
	if d.Codec == "" {
		d.Codec = "auto"
	}
	if d.Container == "" {
		d.Container = "auto"
	}
	if d.RingSize == 0 {
		d.RingSize = ring.DefaultCapacity
	}
	if d.UnitCapacity == 0 {
		d.UnitCapacity = demux.DefaultUnitCapacity
	}
	return nil
}

// Validate checks names and sizes in cfg, which must already have its
// defaults applied.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q (must be debug, info, warn, or error)", cfg.LogLevel)
	}
	if cfg.Jobs < 1 {
		return fmt.Errorf("config: jobs must be at least 1, got %d", cfg.Jobs)
	}
	if err := validateStream("defaults", cfg.Defaults.Codec, cfg.Defaults.Container, cfg.Defaults.RingSize); err != nil {
		return err
	}
	for name, s := range cfg.Streams {
		if s.Path == "" {
			return fmt.Errorf("config: stream %q missing path", name)
		}
		r := s.Effective(cfg.Defaults)
		codec, container := cfg.Defaults.Codec, cfg.Defaults.Container
		if s.Codec != nil {
			codec = *s.Codec
		}
		if s.Container != nil {
			container = *s.Container
		}
		if err := validateStream("stream "+name, codec, container, Size(r.RingSize)); err != nil {
			return err
		}
	}
	return nil
}

func validateStream(where, codec, container string, ringSize Size) error {
	if _, err := media.ParseCodec(codec); err != nil {
		return fmt.Errorf("config: %s: %w", where, err)
	}
	if _, err := media.ParseContainer(container); err != nil {
		return fmt.Errorf("config: %s: %w", where, err)
	}
	if ringSize < demux.MinRingSize {
		return fmt.Errorf("config: %s: ring_size %s below minimum %d bytes", where, ringSize, demux.MinRingSize)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
