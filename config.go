package main

import (
	"fmt"
	"os"
	"strings"

	"hadydotai/agentvm/lang"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
)

// Config is the agentvm.toml run configuration. Command line flags take
// precedence over it.
type Config struct {
	Run    RunConfig     `toml:"run"`
	Owner  AgentConfig   `toml:"owner"`
	Agents []AgentConfig `toml:"agents"`
}

type RunConfig struct {
	Quanta          int    `toml:"quanta"`
	Ticks           int    `toml:"ticks"`
	Locale          string `toml:"locale"`
	FrozenThreshold int    `toml:"frozen-threshold"`
	OnFrozen        string `toml:"on-frozen"`
}

type AgentConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Quanta:          16,
			Ticks:           1000,
			Locale:          "en",
			FrozenThreshold: lang.DefaultFrozenThreshold,
			OnFrozen:        "abort",
		},
		Owner: AgentConfig{Name: "owner", Kind: "creature"},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults untouched.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Run.Quanta == 0 || c.Run.Quanta < lang.QuantaUnlimited {
		return fmt.Errorf("run.quanta must be positive or %d, got %d", lang.QuantaUnlimited, c.Run.Quanta)
	}
	if c.Run.FrozenThreshold <= 0 {
		return fmt.Errorf("run.frozen-threshold must be positive")
	}
	if _, err := c.FrozenPolicy(); err != nil {
		return err
	}
	if _, err := language.Parse(c.Run.Locale); err != nil {
		return fmt.Errorf("run.locale: %w", err)
	}
	for _, a := range append([]AgentConfig{c.Owner}, c.Agents...) {
		if _, err := a.AgentKind(); err != nil {
			return err
		}
	}
	return nil
}

// FrozenPolicy maps run.on-frozen to the action taken without asking.
func (c *Config) FrozenPolicy() (lang.FrozenAction, error) {
	switch strings.ToLower(c.Run.OnFrozen) {
	case "", "abort":
		return lang.FrozenAbort, nil
	case "retry":
		return lang.FrozenRetry, nil
	case "ignore":
		return lang.FrozenIgnore, nil
	}
	return 0, fmt.Errorf("run.on-frozen must be abort, retry or ignore, got %q", c.Run.OnFrozen)
}

// Language returns the locale used for error messages, English when unset.
func (c *Config) Language() language.Tag {
	tag, err := language.Parse(c.Run.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

func (a AgentConfig) AgentKind() (lang.AgentKind, error) {
	switch strings.ToLower(a.Kind) {
	case "", "simple":
		return lang.KindSimple, nil
	case "creature":
		return lang.KindCreature, nil
	}
	return 0, fmt.Errorf("agent %q has unknown kind %q", a.Name, a.Kind)
}

// Populate spawns the configured agents into world and returns the owner.
// Agents are spawned in file order so their IDs are stable between runs,
// which archives rely on.
func (c *Config) Populate(world *lang.World) lang.AgentHandle {
	ownerKind, _ := c.Owner.AgentKind()
	owner := world.Agents.Spawn(c.Owner.Name, ownerKind)
	for _, a := range c.Agents {
		kind, _ := a.AgentKind()
		world.Agents.Spawn(a.Name, kind)
	}
	return owner
}
