// Package config implements SPEC_FULL.md's "Configuration" section: a
// `.forgeorchconfig` TOML file at the repository root, with repeatable
// `-c section.key=value` CLI overrides applied after the file's defaults.
//
// Grounded on the teacher's internal/pluginengine.manifest parsing, which
// already reads a declarative on-disk file into a typed struct and
// reports malformed input with a path-qualified error; config generalizes
// that to BurntSushi/toml (the library the rest of the pack's config-file
// readers use) and adds the override-merge step the teacher's manifest
// loader never needed.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the root of `.forgeorchconfig`.
type Config struct {
	Build  BuildSection  `toml:"build"`
	Cache  CacheSection  `toml:"cache"`
	Remote RemoteSection `toml:"remote"`
}

type BuildSection struct {
	Concurrency int    `toml:"concurrency"`
	OutRoot     string `toml:"out_root"`
}

type CacheSection struct {
	Dir     string `toml:"dir"`
	Enabled bool   `toml:"enabled"`
}

type RemoteSection struct {
	Endpoint string `toml:"endpoint"`
	Instance string `toml:"instance"`
	Enabled  bool   `toml:"enabled"`
}

// Default returns the configuration used when no `.forgeorchconfig` file
// is present, matching §6's documented defaults.
func Default() Config {
	return Config{
		Build: BuildSection{Concurrency: 8, OutRoot: "out"},
		Cache: CacheSection{Dir: ".forgeorch-cache", Enabled: true},
	}
}

// Load reads and parses path, falling back to Default() if the file does
// not exist (§6 "absence of a config file is not an error").
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ErrInvalidOverride is returned by ApplyOverride when an override string
// is not of the form "section.key=value".
type ErrInvalidOverride struct{ Raw string }

func (e ErrInvalidOverride) Error() string {
	return fmt.Sprintf("config: invalid override %q, expected section.key=value", e.Raw)
}

// ApplyOverride applies one "-c section.key=value" override to cfg,
// applied strictly after file defaults (SPEC_FULL.md "Configuration").
// Unknown section/key pairs are rejected rather than silently ignored, so
// a typo in an override is a configuration error, not a no-op.
func ApplyOverride(cfg *Config, raw string) error {
	eq := strings.IndexByte(raw, '=')
	if eq < 0 {
		return ErrInvalidOverride{Raw: raw}
	}
	path, value := raw[:eq], raw[eq+1:]
	dot := strings.IndexByte(path, '.')
	if dot < 0 {
		return ErrInvalidOverride{Raw: raw}
	}
	section, key := path[:dot], path[dot+1:]

	switch section {
	case "build":
		switch key {
		case "concurrency":
			n, err := parseInt(value)
			if err != nil {
				return fmt.Errorf("config: build.concurrency: %w", err)
			}
			cfg.Build.Concurrency = n
		case "out_root":
			cfg.Build.OutRoot = value
		default:
			return fmt.Errorf("config: unknown key build.%s", key)
		}
	case "cache":
		switch key {
		case "dir":
			cfg.Cache.Dir = value
		case "enabled":
			cfg.Cache.Enabled = value == "true"
		default:
			return fmt.Errorf("config: unknown key cache.%s", key)
		}
	case "remote":
		switch key {
		case "endpoint":
			cfg.Remote.Endpoint = value
		case "instance":
			cfg.Remote.Instance = value
		case "enabled":
			cfg.Remote.Enabled = value == "true"
		default:
			return fmt.Errorf("config: unknown key remote.%s", key)
		}
	default:
		return fmt.Errorf("config: unknown section %q", section)
	}
	return nil
}

// ApplyOverrides applies each override in order, stopping at the first
// error (§6 "-c may be repeated; overrides apply in command-line order").
func ApplyOverrides(cfg *Config, overrides []string) error {
	for _, o := range overrides {
		if err := ApplyOverride(cfg, o); err != nil {
			return err
		}
	}
	return nil
}

func parseInt(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, fmt.Errorf("empty integer")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
