// Package rclone wraps the rclone sync tool used to mirror a repository
// to a secondary destination. Mirroring is idempotent; unlike backups
// there is no generation counter, only a last-success timestamp kept by
// the caller.
package rclone

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client invokes an rclone binary.
type Client struct {
	binary string
	log    zerolog.Logger
}

// NewClient returns a Client for the given binary.
func NewClient(binary string, logger zerolog.Logger) *Client {
	return &Client{
		binary: binary,
		log:    logger.With().Str("component", "rclone").Logger(),
	}
}

// SyncOptions describes one mirror-sync invocation.
type SyncOptions struct {
	// ConfigFile points rclone at the credentials/remote definitions to
	// use; empty means rclone's default config.
	ConfigFile string
	// Source is the local repository path to mirror.
	Source string
	// Destination is the remote identity, e.g. "offsite:backups/host1".
	Destination string
	// BandwidthLimit is an rclone bandwidth spec such as "10M"; empty
	// means unlimited.
	BandwidthLimit string
}

// Sync mirrors source to destination, deleting destination entries that
// no longer exist in the source after the transfer completes.
func (c *Client) Sync(ctx context.Context, opts SyncOptions) error {
	c.log.Info().
		Str("source", opts.Source).
		Str("destination", opts.Destination).
		Msg("starting mirror sync")

	args := syncArgs(opts)
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug().Str("binary", c.binary).Strs("args", args).Msg("executing rclone")

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("rclone sync interrupted: %w", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail != "" {
			return fmt.Errorf("rclone sync to %s: %w: %s", opts.Destination, err, detail)
		}
		return fmt.Errorf("rclone sync to %s: %w", opts.Destination, err)
	}

	c.log.Info().
		Str("destination", opts.Destination).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("mirror sync completed")
	return nil
}

func syncArgs(opts SyncOptions) []string {
	args := []string{"sync", "--delete-after"}
	if opts.ConfigFile != "" {
		args = append(args, "--config", opts.ConfigFile)
	}
	if opts.BandwidthLimit != "" {
		args = append(args, "--bwlimit", opts.BandwidthLimit)
	}
	return append(args, opts.Source, opts.Destination)
}
