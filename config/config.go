// Package config handles tern.toml (or tern.yaml) project configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/chazu/tern/vm"
)

// FileNames are the configuration files looked for, in order.
var FileNames = []string{"tern.toml", "tern.yaml", "tern.yml"}

// Config represents a tern project configuration.
type Config struct {
	Heap   Heap   `toml:"heap" yaml:"heap"`
	VM     VM     `toml:"vm" yaml:"vm"`
	Log    Log    `toml:"log" yaml:"log"`
	Store  Store  `toml:"store" yaml:"store"`
	Server Server `toml:"server" yaml:"server"`

	// Path is the file the configuration was loaded from (set at load time).
	Path string `toml:"-" yaml:"-"`
}

// Heap configures the object heap. Sizes are human byte strings ("256MB").
type Heap struct {
	InitialSize string `toml:"initial-size" yaml:"initial-size"`
	MaxSize     string `toml:"max-size" yaml:"max-size"`
	Growable    bool   `toml:"growable" yaml:"growable"`
	Ratio       string `toml:"ratio" yaml:"ratio"` // typed:wild
	BlockSlots  int    `toml:"block-slots" yaml:"block-slots"`
}

// VM configures machines.
type VM struct {
	StackSlots int  `toml:"stack-slots" yaml:"stack-slots"`
	MaxDepth   int  `toml:"max-depth" yaml:"max-depth"`
	Trace      bool `toml:"trace" yaml:"trace"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" yaml:"verbosity"`
	File      string `toml:"file" yaml:"file"`
}

// Store configures the program store.
type Store struct {
	Path string `toml:"path" yaml:"path"`
}

// Server configures the runner service.
type Server struct {
	Address string `toml:"address" yaml:"address"`
	// Capabilities lists the builtin modules remote programs may use.
	// Empty allows all.
	Capabilities []string `toml:"capabilities" yaml:"capabilities"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Heap: Heap{
			InitialSize: "256MiB",
			MaxSize:     "1GiB",
			Growable:    true,
			Ratio:       "3:1",
			BlockSlots:  4096,
		},
		VM: VM{
			StackSlots: vm.DefaultStackSlots,
			MaxDepth:   vm.DefaultMaxDepth,
		},
		Server: Server{Address: "localhost:7411"},
	}
}

// LoadFile parses a configuration file. Keys absent from the file keep
// their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && len(bytes.TrimSpace(data)) > 0 {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return nil, fmt.Errorf("parse error in %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse error in %s: unknown key %s", path, undecoded[0])
		}
	}

	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Load parses the configuration file in dir.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}
	return nil, fmt.Errorf("no %s in %s", strings.Join(FileNames, " or "), dir)
}

// FindAndLoad walks up from startDir to find a configuration file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		for _, name := range FileNames {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return Load(dir)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve is FindAndLoad falling back to Default.
func Resolve(startDir string) (*Config, error) {
	c, err := FindAndLoad(startDir)
	if err != nil || c != nil {
		return c, err
	}
	return Default(), nil
}

// Validate checks values that only parse lazily.
func (c *Config) Validate() error {
	if _, err := c.HeapConfig(); err != nil {
		return err
	}
	if c.VM.StackSlots < 0 || c.VM.MaxDepth < 0 {
		return fmt.Errorf("vm limits must not be negative")
	}
	return nil
}

// HeapConfig converts the heap section.
func (c *Config) HeapConfig() (vm.HeapConfig, error) {
	var hc vm.HeapConfig
	initial, err := humanize.ParseBytes(c.Heap.InitialSize)
	if err != nil {
		return hc, fmt.Errorf("heap initial-size: %w", err)
	}
	maxSize, err := humanize.ParseBytes(c.Heap.MaxSize)
	if err != nil {
		return hc, fmt.Errorf("heap max-size: %w", err)
	}
	if maxSize < initial {
		return hc, fmt.Errorf("heap max-size %s is below initial-size %s",
			humanize.IBytes(maxSize), humanize.IBytes(initial))
	}
	typed, wild, err := parseRatio(c.Heap.Ratio)
	if err != nil {
		return hc, err
	}
	return vm.HeapConfig{
		InitialSize: int64(initial),
		MaxSize:     int64(maxSize),
		Growable:    c.Heap.Growable,
		TypedShare:  typed,
		WildShare:   wild,
		BlockSlots:  c.Heap.BlockSlots,
	}, nil
}

func parseRatio(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("heap ratio %q is not typed:wild", s)
	}
	typed, err1 := strconv.Atoi(strings.TrimSpace(a))
	wild, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil || typed < 0 || wild < 0 || typed+wild == 0 {
		return 0, 0, fmt.Errorf("heap ratio %q is not typed:wild", s)
	}
	return typed, wild, nil
}

// MachineOptions converts the vm section. Tracing is left to the caller.
func (c *Config) MachineOptions() []vm.Option {
	var opts []vm.Option
	if c.VM.StackSlots > 0 {
		opts = append(opts, vm.WithStackSlots(c.VM.StackSlots))
	}
	if c.VM.MaxDepth > 0 {
		opts = append(opts, vm.WithMaxDepth(c.VM.MaxDepth))
	}
	return opts
}

// StorePath returns the configured store path, or the store default.
func (c *Config) StorePath(fallback func() (string, error)) (string, error) {
	if c.Store.Path == "" {
		return fallback()
	}
	if filepath.IsAbs(c.Store.Path) || c.Path == "" {
		return c.Store.Path, nil
	}
	return filepath.Join(filepath.Dir(c.Path), c.Store.Path), nil
}
