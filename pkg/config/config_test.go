package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file whose archive source paths actually
// exist, since Validate stats them.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	return writeConfig(t, fmt.Sprintf(`
state_file: /var/lib/borgtend/state.json
repositories:
  - name: local
    path: /srv/backup/borg
    compression: lz4
    keep:
      daily: 7
      weekly: 4
    sync:
      destination: offsite:backups/host1
      interval: 1d
    archives:
      - name: etc
        paths: [%s]
        interval: 1d
`, src))
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(validConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/borgtend/state.json", cfg.StateFile)
	assert.Equal(t, "borg", cfg.BorgBinary, "default applied")
	assert.Equal(t, "rclone", cfg.RcloneBinary, "default applied")
	assert.Equal(t, 1, cfg.CheckLast, "default applied")

	require.Len(t, cfg.Repositories, 1)
	repo := cfg.Repositories[0]
	assert.Equal(t, "local", repo.Name)
	assert.Equal(t, "lz4", repo.Compression)
	assert.Equal(t, KeepPolicy{Daily: 7, Weekly: 4}, repo.Keep)
	require.NotNil(t, repo.Sync)
	assert.Equal(t, "offsite:backups/host1", repo.Sync.Destination)
	require.Len(t, repo.Archives, 1)
	assert.Equal(t, "etc", repo.Archives[0].Name)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BORGTEND_BORG_BINARY", "/opt/borg/bin/borg")

	cfg, err := Load(validConfig(t))
	require.NoError(t, err)
	assert.Equal(t, "/opt/borg/bin/borg", cfg.BorgBinary)
}

func TestValidateErrors(t *testing.T) {
	src := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no repositories",
			content: "state_file: /tmp/state.json\n",
			wantErr: "at least one repository",
		},
		{
			name: "duplicate repository identity",
			content: fmt.Sprintf(`
state_file: /tmp/state.json
repositories:
  - name: local
    path: /srv/borg
    archives: [{name: a, paths: [%[1]s], interval: 1d}]
  - name: local
    path: /srv/borg
    archives: [{name: b, paths: [%[1]s], interval: 1d}]
`, src),
			wantErr: "duplicate repository identity",
		},
		{
			name: "duplicate archive name across repositories",
			content: fmt.Sprintf(`
state_file: /tmp/state.json
repositories:
  - name: one
    path: /srv/borg1
    archives: [{name: etc, paths: [%[1]s], interval: 1d}]
  - name: two
    path: /srv/borg2
    archives: [{name: etc, paths: [%[1]s], interval: 1d}]
`, src),
			wantErr: "archive name etc",
		},
		{
			name: "missing source path",
			content: `
state_file: /tmp/state.json
repositories:
  - name: local
    path: /srv/borg
    archives: [{name: etc, paths: [/does/not/exist-borgtend-test], interval: 1d}]
`,
			wantErr: "source path",
		},
		{
			name: "unparsable interval",
			content: fmt.Sprintf(`
state_file: /tmp/state.json
repositories:
  - name: local
    path: /srv/borg
    archives: [{name: etc, paths: [%s], interval: 3 fortnights}]
`, src),
			wantErr: "unrecognized unit",
		},
		{
			name: "sync without destination",
			content: fmt.Sprintf(`
state_file: /tmp/state.json
repositories:
  - name: local
    path: /srv/borg
    sync: {interval: 1d}
    archives: [{name: etc, paths: [%s], interval: 1d}]
`, src),
			wantErr: "sync has no destination",
		},
		{
			name: "archive without paths",
			content: `
state_file: /tmp/state.json
repositories:
  - name: local
    path: /srv/borg
    archives: [{name: etc, interval: 1d}]
`,
			wantErr: "no source paths",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBorgEnv(t *testing.T) {
	cfg := Config{PassCommand: "pass show borg"}
	assert.Equal(t, []string{"BORG_PASSCOMMAND=pass show borg"}, cfg.BorgEnv())

	cfg = Config{Passphrase: "sekrit"}
	assert.Equal(t, []string{"BORG_PASSPHRASE=sekrit"}, cfg.BorgEnv())

	assert.Empty(t, (&Config{}).BorgEnv())
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yml")
	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "state_file:")
	assert.Contains(t, string(data), "repositories:")

	// Refuses to clobber an existing file.
	assert.Error(t, WriteDefault(path))
}
