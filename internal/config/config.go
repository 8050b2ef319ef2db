// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file; the file wins over
// defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sakif/automata/internal/hashtag"
	"github.com/sakif/automata/internal/idcodec"
)

const (
	DefaultPort     = 8080
	DefaultDBPath   = "data/automata.db"
	DefaultLogLevel = "info"
)

// Config models the YAML file:
//
//	port: 8080
//	db_path: data/automata.db
//	log_level: info
//	moderators: [alice, bob]
//	contributions:
//	  require_edit_ownership: true
//	  tag_order: truncate-then-filter
//	public_id:
//	  alphabet: ""
//	  min_length: 8
type Config struct {
	Port          int                 `yaml:"port"`
	DBPath        string              `yaml:"db_path"`
	LogLevel      string              `yaml:"log_level"`
	Moderators    []string            `yaml:"moderators"`
	Contributions ContributionsConfig `yaml:"contributions"`
	PublicID      PublicIDConfig      `yaml:"public_id"`

	level    slog.Level
	tagOrder hashtag.Order
}

type ContributionsConfig struct {
	RequireEditOwnership bool   `yaml:"require_edit_ownership"`
	TagOrder             string `yaml:"tag_order"`
}

// PublicIDConfig must stay the same for the lifetime of a database; public
// ids issued under one alphabet do not decode under another.
type PublicIDConfig struct {
	Alphabet  string `yaml:"alphabet"`
	MinLength uint8  `yaml:"min_length"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		DBPath:   DefaultDBPath,
		LogLevel: DefaultLogLevel,
		Contributions: ContributionsConfig{
			RequireEditOwnership: true,
			TagOrder:             hashtag.TruncateThenFilter.String(),
		},
		PublicID: PublicIDConfig{MinLength: idcodec.DefaultMinLength},
	}
}

// Load reads path (skipped when empty or missing), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	// Unmarshalling over the defaults leaves absent keys untouched.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PORT: %w", err)
		}
		c.Port = port
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		c.DBPath = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("MODERATORS"); ok {
		c.Moderators = splitList(v)
	}
	if v, ok := os.LookupEnv("REQUIRE_EDIT_OWNERSHIP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: REQUIRE_EDIT_OWNERSHIP: %w", err)
		}
		c.Contributions.RequireEditOwnership = b
	}
	if v, ok := os.LookupEnv("TAG_ORDER"); ok {
		c.Contributions.TagOrder = v
	}
	if v, ok := os.LookupEnv("PUBLIC_ID_ALPHABET"); ok {
		c.PublicID.Alphabet = v
	}
	if v, ok := os.LookupEnv("PUBLIC_ID_MIN_LENGTH"); ok {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("config: PUBLIC_ID_MIN_LENGTH: %w", err)
		}
		c.PublicID.MinLength = uint8(n)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path must not be empty")
	}
	if err := c.level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	order, ok := hashtag.ParseOrder(c.Contributions.TagOrder)
	if !ok {
		return fmt.Errorf("contributions.tag_order: unknown order %q", c.Contributions.TagOrder)
	}
	c.tagOrder = order

	moderators := c.Moderators[:0]
	for _, m := range c.Moderators {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			moderators = append(moderators, m)
		}
	}
	c.Moderators = moderators
	return nil
}

// Level is the parsed log_level.
func (c *Config) Level() slog.Level { return c.level }

// TagOrder is the parsed contributions.tag_order.
func (c *Config) TagOrder() hashtag.Order { return c.tagOrder }

// CodecOptions returns the public id codec settings.
func (c *Config) CodecOptions() idcodec.Options {
	return idcodec.Options{
		Alphabet:  c.PublicID.Alphabet,
		MinLength: c.PublicID.MinLength,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
