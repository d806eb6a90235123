// Package config loads the verifier configuration from TOML or YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/akerouanton/muproof/pkg/invariant"
	"github.com/akerouanton/muproof/pkg/schedule"
)

// Invariant declares one invariant to check.
type Invariant struct {
	Kind    string `toml:"kind" yaml:"kind"`
	Package string `toml:"package" yaml:"package"`
	Type    string `toml:"type" yaml:"type"`
	Member  string `toml:"member" yaml:"member"`
	Lock    string `toml:"lock" yaml:"lock"`
}

// Config is the configuration of a verification run. Zero values select the
// defaults.
type Config struct {
	// Entry lists the true entry points by full name, e.g. "main.main".
	Entry []string `toml:"entry" yaml:"entry"`
	// Unresolved is the policy for unresolved thread starts: "exclude" or
	// "abort".
	Unresolved string `toml:"unresolved" yaml:"unresolved"`
	// Timeout bounds the analysis of each invariant, e.g. "30s".
	Timeout   string `toml:"timeout" yaml:"timeout"`
	MaxDepth  int    `toml:"max_depth" yaml:"max_depth"`
	MaxChains int    `toml:"max_chains" yaml:"max_chains"`
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	// Pure lists functions known to be side-effect free.
	Pure []string `toml:"pure" yaml:"pure"`
	// Mutators lists methods known to change their receiver.
	Mutators   []string    `toml:"mutators" yaml:"mutators"`
	Invariants []Invariant `toml:"invariants" yaml:"invariants"`
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// YAML, anything else is TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), &c)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if c.MaxDepth < 0 || c.MaxChains < 0 {
		return fmt.Errorf("max_depth and max_chains must not be negative")
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	_, err := c.Declared()
	return err
}

// Policy returns the unresolved thread start policy.
func (c *Config) Policy() (schedule.UnresolvedPolicy, error) {
	return schedule.ParsePolicy(c.Unresolved)
}

// TimeoutDuration returns the per-invariant timeout, zero for none.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("timeout %s is negative", c.Timeout)
	}
	return d, nil
}

// Declared returns the configured invariants.
func (c *Config) Declared() ([]invariant.Invariant, error) {
	out := make([]invariant.Invariant, 0, len(c.Invariants))
	for i, ci := range c.Invariants {
		kind, err := invariant.ParseKind(ci.Kind)
		if err != nil {
			return nil, fmt.Errorf("invariants[%d]: %w", i, err)
		}
		inv := invariant.Invariant{Kind: kind, PkgPath: ci.Package, Type: ci.Type, Member: ci.Member, Lock: ci.Lock}
		if err := inv.Validate(); err != nil {
			return nil, fmt.Errorf("invariants[%d]: %w", i, err)
		}
		out = append(out, inv)
	}
	return out, nil
}
