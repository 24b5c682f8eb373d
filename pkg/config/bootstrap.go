package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// sampleHeader is prepended to generated config files so a fresh
// install documents itself.
const sampleHeader = `# borgtend configuration.
#
# Each repository holds one or more archives; every archive is backed up
# independently on its own interval and pruned with the repository's
# keep-policy. Archive names must be unique across this whole file.
#
# Intervals accept s/m/h/d/w units, e.g. "12h", "1d", "2 weeks".
#
# Credentials: set pass_command (preferred) or passphrase; they are
# passed to borg via its environment and never logged.
`

// Sample returns a commented starter configuration written by
// `borgtend init-config`. The source path deliberately points at /etc so
// the sample validates on most systems.
func Sample() Config {
	cfg := NewDefault()
	cfg.StatusDir = "/var/lib/borgtend/status"
	cfg.Repositories = []RepositoryConfig{
		{
			Name:        "local",
			Path:        "/srv/backup/borg",
			Compression: "lz4",
			Keep:        KeepPolicy{Daily: 7, Weekly: 4, Monthly: 6},
			Sync: &SyncConfig{
				Destination: "offsite:backups/host1",
				Interval:    "1d",
			},
			Archives: []ArchiveConfig{
				{
					Name:     "etc",
					Paths:    []string{"/etc"},
					Interval: "1d",
				},
			},
		},
	}
	return cfg
}

// WriteDefault writes the sample configuration to path. It refuses to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file %s: %w", path, err)
	}

	data, err := yaml.Marshal(Sample())
	if err != nil {
		return fmt.Errorf("marshal sample config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}

	// User-only: the file may carry a passphrase later.
	if err := os.WriteFile(path, append([]byte(sampleHeader), data...), 0o600); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}
