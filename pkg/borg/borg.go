// Package borg wraps the borg command line tool. Only exit status and
// the output of list are interpreted here; repository format, locking,
// deduplication and transfer are borg's own business.
package borg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// stderrTailLines bounds how much tool output is carried into error
// messages.
const stderrTailLines = 10

// Client invokes a borg binary with a fixed environment. It is safe to
// reuse across repositories within a run.
type Client struct {
	binary string
	env    []string
	log    zerolog.Logger
}

// NewClient returns a Client for the given binary. env entries of the
// form KEY=VALUE are appended to the inherited process environment on
// every invocation; this is how credentials such as BORG_PASSCOMMAND
// reach the tool without ever being logged.
func NewClient(binary string, env []string, logger zerolog.Logger) *Client {
	return &Client{
		binary: binary,
		env:    env,
		log:    logger.With().Str("component", "borg").Logger(),
	}
}

// Init initializes a repository. Failure is returned verbatim; the run
// driver treats it as "repository likely already initialized".
func (c *Client) Init(ctx context.Context, repository string) error {
	c.log.Info().Str("repository", repository).Msg("initializing repository")
	_, err := c.run(ctx, "init", repository)
	return err
}

// CreateOptions describes one borg create invocation.
type CreateOptions struct {
	Repository string
	// Archive is the materialized generation name, e.g. "etc.7".
	Archive     string
	SourcePaths []string
	Compression string
	// ExcludeFile is a path to a borg exclusion pattern file.
	ExcludeFile string
	// ExcludeIfPresent skips directories containing this marker file.
	ExcludeIfPresent string
	OneFileSystem    bool
	// RemoteRateLimitKB caps upload bandwidth in KiB/s; 0 is unlimited.
	RemoteRateLimitKB int
}

// Create backs up the source paths into a new archive.
func (c *Client) Create(ctx context.Context, opts CreateOptions) error {
	c.log.Info().
		Str("repository", opts.Repository).
		Str("archive", opts.Archive).
		Strs("paths", opts.SourcePaths).
		Msg("creating archive")

	start := time.Now()
	_, err := c.run(ctx, createArgs(opts)...)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", opts.Archive, err)
	}

	c.log.Info().
		Str("archive", opts.Archive).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Msg("archive created")
	return nil
}

func createArgs(opts CreateOptions) []string {
	args := []string{"create"}
	if opts.Compression != "" {
		args = append(args, "--compression", opts.Compression)
	}
	if opts.ExcludeFile != "" {
		args = append(args, "--exclude-from", opts.ExcludeFile)
	}
	if opts.ExcludeIfPresent != "" {
		args = append(args, "--exclude-if-present", opts.ExcludeIfPresent)
	}
	if opts.OneFileSystem {
		args = append(args, "--one-file-system")
	}
	if opts.RemoteRateLimitKB > 0 {
		args = append(args, "--remote-ratelimit", strconv.Itoa(opts.RemoteRateLimitKB))
	}
	args = append(args, opts.Repository+"::"+opts.Archive)
	return append(args, opts.SourcePaths...)
}

// List returns the names of all archives in a repository, in listing
// order.
func (c *Client) List(ctx context.Context, repository string) ([]string, error) {
	output, err := c.run(ctx, "list", repository)
	if err != nil {
		return nil, fmt.Errorf("list archives in %s: %w", repository, err)
	}

	names := parseListOutput(output)
	c.log.Debug().Str("repository", repository).Int("count", len(names)).Msg("archives listed")
	return names, nil
}

// parseListOutput extracts archive names from borg list output: one
// archive per line, first whitespace-delimited token is the name.
func parseListOutput(output []byte) []string {
	var names []string
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		names = append(names, fields[0])
	}
	return names
}

// CheckOptions describes one borg check invocation.
type CheckOptions struct {
	Repository string
	// GlobArchives limits the check to archives matching this glob.
	GlobArchives string
	// Last limits the check to the N most recent matching archives.
	Last int
}

// Check verifies repository and archive consistency.
func (c *Client) Check(ctx context.Context, opts CheckOptions) error {
	args := []string{"check"}
	if opts.GlobArchives != "" {
		args = append(args, "--glob-archives", opts.GlobArchives)
	}
	if opts.Last > 0 {
		args = append(args, "--last", strconv.Itoa(opts.Last))
	}
	args = append(args, opts.Repository)

	c.log.Info().
		Str("repository", opts.Repository).
		Str("glob", opts.GlobArchives).
		Int("last", opts.Last).
		Msg("checking repository")

	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("check %s: %w", opts.Repository, err)
	}
	return nil
}

// PruneOptions describes one borg prune invocation. Keep counts of zero
// are omitted from the command line.
type PruneOptions struct {
	Repository   string
	GlobArchives string
	Hourly       int
	Daily        int
	Weekly       int
	Monthly      int
	Yearly       int
}

// Prune applies the retention keep-policy to archives matching the glob.
func (c *Client) Prune(ctx context.Context, opts PruneOptions) error {
	c.log.Info().
		Str("repository", opts.Repository).
		Str("glob", opts.GlobArchives).
		Msg("pruning archives")

	if _, err := c.run(ctx, pruneArgs(opts)...); err != nil {
		return fmt.Errorf("prune %s in %s: %w", opts.GlobArchives, opts.Repository, err)
	}
	return nil
}

func pruneArgs(opts PruneOptions) []string {
	args := []string{"prune"}
	if opts.GlobArchives != "" {
		args = append(args, "--glob-archives", opts.GlobArchives)
	}
	keep := []struct {
		flag  string
		count int
	}{
		{"--keep-hourly", opts.Hourly},
		{"--keep-daily", opts.Daily},
		{"--keep-weekly", opts.Weekly},
		{"--keep-monthly", opts.Monthly},
		{"--keep-yearly", opts.Yearly},
	}
	for _, k := range keep {
		if k.count > 0 {
			args = append(args, k.flag, strconv.Itoa(k.count))
		}
	}
	return append(args, opts.Repository)
}

// Delete removes a single archive by its fully qualified identity.
func (c *Client) Delete(ctx context.Context, repository, archive string) error {
	c.log.Info().
		Str("repository", repository).
		Str("archive", archive).
		Msg("deleting archive")

	if _, err := c.run(ctx, "delete", repository+"::"+archive); err != nil {
		return fmt.Errorf("delete archive %s: %w", archive, err)
	}
	return nil
}

// run executes the borg binary and blocks until it exits. Stdout is
// captured and returned; stderr is streamed line by line into the debug
// log while a bounded tail is kept for error messages. On context
// cancellation the process receives an interrupt first and is killed
// after a grace period, so no tool invocation is left orphaned.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Env = append(cmd.Environ(), c.env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 10 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("borg %s: stdout pipe: %w", args[0], err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("borg %s: stderr pipe: %w", args[0], err)
	}

	c.log.Debug().Str("binary", c.binary).Strs("args", args).Msg("executing borg")

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("borg %s: start: %w", args[0], err)
	}

	var stdout bytes.Buffer
	var tail []string

	// Both streams are drained concurrently so a chatty tool can never
	// deadlock on a full pipe while we wait on the other one.
	var g errgroup.Group
	g.Go(func() error {
		_, err := stdout.ReadFrom(stdoutPipe)
		return err
	})
	g.Go(func() error {
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			line := scanner.Text()
			c.log.Debug().Str("tool", "borg").Msg(line)
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
		return scanner.Err()
	})

	pumpErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("borg %s interrupted: %w", args[0], ctx.Err())
		}
		detail := strings.TrimSpace(strings.Join(tail, "; "))
		if detail != "" {
			return nil, fmt.Errorf("borg %s: %w: %s", args[0], waitErr, detail)
		}
		return nil, fmt.Errorf("borg %s: %w", args[0], waitErr)
	}
	if pumpErr != nil {
		return nil, fmt.Errorf("borg %s: read output: %w", args[0], pumpErr)
	}

	return stdout.Bytes(), nil
}
