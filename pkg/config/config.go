// Package config loads and validates the borgtend configuration.
// Configuration is layered: built-in defaults, then a YAML file, then
// BORGTEND_* environment variables, with later layers winning.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/borgtend/borgtend/pkg/interval"
)

// EnvPrefix is the prefix for environment variable overrides. A double
// underscore separates nesting levels so that keys containing single
// underscores stay addressable, e.g. BORGTEND_BORG_BINARY.
const EnvPrefix = "BORGTEND_"

// KeepPolicy maps retention units to the number of archives to keep.
// All-zero means pruning is skipped entirely.
type KeepPolicy struct {
	Hourly  int `koanf:"hourly" yaml:"hourly"`
	Daily   int `koanf:"daily" yaml:"daily"`
	Weekly  int `koanf:"weekly" yaml:"weekly"`
	Monthly int `koanf:"monthly" yaml:"monthly"`
	Yearly  int `koanf:"yearly" yaml:"yearly"`
}

// Empty reports whether the policy keeps nothing, i.e. pruning would be
// meaningless.
func (k KeepPolicy) Empty() bool {
	return k.Hourly == 0 && k.Daily == 0 && k.Weekly == 0 && k.Monthly == 0 && k.Yearly == 0
}

// SyncConfig describes a repository's optional mirror-sync job.
type SyncConfig struct {
	Destination    string `koanf:"destination" yaml:"destination"`
	Interval       string `koanf:"interval" yaml:"interval"`
	ConfigFile     string `koanf:"config_file" yaml:"config_file,omitempty"`
	BandwidthLimit string `koanf:"bandwidth_limit" yaml:"bandwidth_limit,omitempty"`
}

// IntervalSeconds parses the sync interval.
func (s SyncConfig) IntervalSeconds() (int64, error) {
	return interval.Seconds(s.Interval)
}

// ArchiveConfig describes one recurring backup target within a
// repository. Archive names must be unique across the whole run because
// they key the generation store and namespace the materialized archive
// names inside the repository.
type ArchiveConfig struct {
	Name             string   `koanf:"name" yaml:"name"`
	Paths            []string `koanf:"paths" yaml:"paths"`
	Interval         string   `koanf:"interval" yaml:"interval"`
	ExcludeFile      string   `koanf:"exclude_file" yaml:"exclude_file,omitempty"`
	ExcludeIfPresent string   `koanf:"exclude_if_present" yaml:"exclude_if_present,omitempty"`
	OneFileSystem    bool     `koanf:"one_file_system" yaml:"one_file_system,omitempty"`
}

// IntervalSeconds parses the archive's backup interval.
func (a ArchiveConfig) IntervalSeconds() (int64, error) {
	return interval.Seconds(a.Interval)
}

// RepositoryConfig describes one borg repository and its archives.
type RepositoryConfig struct {
	Name        string `koanf:"name" yaml:"name"`
	Path        string `koanf:"path" yaml:"path"`
	Compression string `koanf:"compression" yaml:"compression,omitempty"`
	// RemoteRateLimitKB caps borg's upload bandwidth in KiB/s.
	RemoteRateLimitKB int             `koanf:"remote_rate_limit_kb" yaml:"remote_rate_limit_kb,omitempty"`
	Keep              KeepPolicy      `koanf:"keep" yaml:"keep"`
	Sync              *SyncConfig     `koanf:"sync" yaml:"sync,omitempty"`
	Archives          []ArchiveConfig `koanf:"archives" yaml:"archives"`
}

// Config is the root configuration document.
type Config struct {
	// StateFile is the generation store location.
	StateFile string `koanf:"state_file" yaml:"state_file"`
	// StatusDir enables status file emission when non-empty.
	StatusDir    string `koanf:"status_dir" yaml:"status_dir,omitempty"`
	BorgBinary   string `koanf:"borg_binary" yaml:"borg_binary"`
	RcloneBinary string `koanf:"rclone_binary" yaml:"rclone_binary"`
	// PassCommand is exported to borg as BORG_PASSCOMMAND.
	PassCommand string `koanf:"pass_command" yaml:"pass_command,omitempty"`
	// Passphrase is exported to borg as BORG_PASSPHRASE. Prefer
	// PassCommand; a literal passphrase in the config file is only
	// acceptable when the file itself is adequately protected.
	Passphrase string `koanf:"passphrase" yaml:"passphrase,omitempty"`
	// CheckLast is how many recent generations per archive the check
	// action verifies.
	CheckLast    int                `koanf:"check_last" yaml:"check_last"`
	Repositories []RepositoryConfig `koanf:"repositories" yaml:"repositories"`
}

// NewDefault returns the built-in defaults applied beneath the config
// file and environment.
func NewDefault() Config {
	return Config{
		StateFile:    "/var/lib/borgtend/state.json",
		BorgBinary:   "borg",
		RcloneBinary: "rclone",
		CheckLast:    1,
	}
}

// Load reads, layers and validates the configuration. The file at path
// must exist; a scheduling tool running against an unintended default
// config would be worse than failing loudly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(NewDefault(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}

	envProvider := env.Provider(EnvPrefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load config environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the configuration invariants. Every violation is a
// fatal configuration error surfaced before any tool invocation.
func (c *Config) Validate() error {
	if c.StateFile == "" {
		return fmt.Errorf("config: state_file is required")
	}
	if len(c.Repositories) == 0 {
		return fmt.Errorf("config: at least one repository is required")
	}

	repoIdentities := make(map[string]struct{})
	archiveNames := make(map[string]string)

	for _, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("config: repository without a name")
		}
		if repo.Path == "" {
			return fmt.Errorf("config: repository %s has no path", repo.Name)
		}

		identity := repo.Path + "\x00" + repo.Name
		if _, dup := repoIdentities[identity]; dup {
			return fmt.Errorf("config: duplicate repository identity (%s, %s)", repo.Path, repo.Name)
		}
		repoIdentities[identity] = struct{}{}

		for _, archive := range repo.Archives {
			if archive.Name == "" {
				return fmt.Errorf("config: repository %s has an archive without a name", repo.Name)
			}
			if owner, dup := archiveNames[archive.Name]; dup {
				return fmt.Errorf("config: archive name %s used by repositories %s and %s, names must be unique across the run",
					archive.Name, owner, repo.Name)
			}
			archiveNames[archive.Name] = repo.Name

			if len(archive.Paths) == 0 {
				return fmt.Errorf("config: archive %s has no source paths", archive.Name)
			}
			for _, p := range archive.Paths {
				if _, err := os.Stat(p); err != nil {
					return fmt.Errorf("config: archive %s source path %s: %w", archive.Name, p, err)
				}
			}
			if _, err := archive.IntervalSeconds(); err != nil {
				return fmt.Errorf("config: archive %s: %w", archive.Name, err)
			}
		}

		if repo.Sync != nil {
			if repo.Sync.Destination == "" {
				return fmt.Errorf("config: repository %s sync has no destination", repo.Name)
			}
			if _, err := repo.Sync.IntervalSeconds(); err != nil {
				return fmt.Errorf("config: repository %s sync: %w", repo.Name, err)
			}
		}
	}
	return nil
}

// Repository returns the configured repository with the given name.
func (c *Config) Repository(name string) (RepositoryConfig, bool) {
	for _, repo := range c.Repositories {
		if repo.Name == name {
			return repo, true
		}
	}
	return RepositoryConfig{}, false
}

// BorgEnv assembles the KEY=VALUE environment entries handed to every
// borg invocation. Credentials travel through the environment only and
// are never logged.
func (c *Config) BorgEnv() []string {
	var envs []string
	if c.PassCommand != "" {
		envs = append(envs, "BORG_PASSCOMMAND="+c.PassCommand)
	}
	if c.Passphrase != "" {
		envs = append(envs, "BORG_PASSPHRASE="+c.Passphrase)
	}
	return envs
}
