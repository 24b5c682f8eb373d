package rclone

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncArgs(t *testing.T) {
	tests := []struct {
		name string
		opts SyncOptions
		want []string
	}{
		{
			name: "minimal",
			opts: SyncOptions{
				Source:      "/srv/borg",
				Destination: "offsite:backups/host1",
			},
			want: []string{"sync", "--delete-after", "/srv/borg", "offsite:backups/host1"},
		},
		{
			name: "with config and bandwidth limit",
			opts: SyncOptions{
				ConfigFile:     "/etc/borgtend/rclone.conf",
				Source:         "/srv/borg",
				Destination:    "offsite:backups/host1",
				BandwidthLimit: "10M",
			},
			want: []string{
				"sync", "--delete-after",
				"--config", "/etc/borgtend/rclone.conf",
				"--bwlimit", "10M",
				"/srv/borg", "offsite:backups/host1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, syncArgs(tt.opts))
		})
	}
}

func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool scripts require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-rclone")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestSyncSuccess(t *testing.T) {
	tool := writeFakeTool(t, `exit 0`)
	client := NewClient(tool, zerolog.Nop())

	err := client.Sync(context.Background(), SyncOptions{
		Source:      "/srv/borg",
		Destination: "offsite:backups/host1",
	})
	assert.NoError(t, err)
}

func TestSyncSurfacesStderrOnFailure(t *testing.T) {
	tool := writeFakeTool(t, `echo 'connection refused' >&2; exit 1`)
	client := NewClient(tool, zerolog.Nop())

	err := client.Sync(context.Background(), SyncOptions{
		Source:      "/srv/borg",
		Destination: "offsite:backups/host1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, err.Error(), "offsite:backups/host1")
}
