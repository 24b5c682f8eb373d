package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/borgtend/borgtend/pkg/borg"
	"github.com/borgtend/borgtend/pkg/buildinfo"
	"github.com/borgtend/borgtend/pkg/config"
	"github.com/borgtend/borgtend/pkg/engine"
	"github.com/borgtend/borgtend/pkg/genstore"
	"github.com/borgtend/borgtend/pkg/planner"
	"github.com/borgtend/borgtend/pkg/rclone"
	"github.com/borgtend/borgtend/pkg/statusfile"
)

// Exit codes. Skipped repositories are distinguishable from both full
// success and fatal failure so cron wrappers can alert on them
// separately.
const (
	exitOK      = 0
	exitFatal   = 1
	exitSkipped = 3
)

type runCmd struct {
	Actions []string `help:"Actions to perform: init, backup, check, sync." default:"backup"`
	Only    []string `help:"Process only these repositories (takes precedence over --exclude)."`
	Exclude []string `help:"Skip these repositories."`
	Force   bool     `help:"Run every backup and sync regardless of interval."`
	NoPrune bool     `help:"Skip retention pruning after successful backups."`
	DryRun  bool     `help:"Log tool invocations without executing them."`
}

var cli struct {
	Config   string `short:"c" default:"/etc/borgtend/config.yml" help:"Path to the configuration file."`
	LogLevel string `default:"info" enum:"debug,info,warn,error" help:"Log level: debug, info, warn or error."`

	Run        runCmd           `cmd:"" default:"1" help:"Execute the configured actions against the configured repositories."`
	InitConfig struct{}         `cmd:"" name:"init-config" help:"Write a starter configuration file and exit."`
	Version    kong.VersionFlag `short:"v" help:"Display version."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name(buildinfo.Name),
		kong.Description("Schedules recurring borg backups and repository mirror syncs."),
		kong.UsageOnError(),
		kong.Vars{"version": buildinfo.Version},
	)

	logger := newLogger(cli.LogLevel)

	// Interrupts cancel the context; in-flight tool invocations are
	// signalled and reaped before the run surfaces the cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "init-config":
		if err := config.WriteDefault(cli.Config); err != nil {
			logger.Error().Err(err).Msg("failed to write configuration")
			os.Exit(exitFatal)
		}
		logger.Info().Str("path", cli.Config).Msg("starter configuration written")
		os.Exit(exitOK)
	default:
		os.Exit(executeRun(ctx, logger))
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func executeRun(ctx context.Context, logger zerolog.Logger) int {
	logger.Info().Str("version", buildinfo.Version).Int("pid", os.Getpid()).Msg("starting " + buildinfo.Name)

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logger.Error().Err(err).Msg("configuration error")
		return exitFatal
	}

	plan, err := planner.Build(cfg, planner.Flags{
		Actions:  cli.Run.Actions,
		Only:     cli.Run.Only,
		Exclude:  cli.Run.Exclude,
		ForceAll: cli.Run.Force,
		NoPrune:  cli.Run.NoPrune,
		DryRun:   cli.Run.DryRun,
	})
	if err != nil {
		logger.Error().Err(err).Msg("invalid run selection")
		return exitFatal
	}

	store, err := genstore.Open(cfg.StateFile, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load generation state")
		return exitFatal
	}

	status := statusfile.NewWriter(cfg.StatusDir)
	runner := engine.NewRunner(
		borg.NewClient(cfg.BorgBinary, cfg.BorgEnv(), logger),
		rclone.NewClient(cfg.RcloneBinary, logger),
		store,
		status,
		time.Now,
		logger,
	)

	start := time.Now()
	report, runErr := runner.Execute(ctx, plan)
	duration := time.Since(start).Round(time.Millisecond)

	writeRunStatus(status, logger, runErr)

	if runErr != nil {
		logger.Error().Err(runErr).Dur("duration", duration).Msg("run failed")
		return exitFatal
	}
	if skipped := report.Skipped(); len(skipped) > 0 {
		logger.Warn().Int("skipped", len(skipped)).Dur("duration", duration).Msg("run finished with skipped repositories")
		return exitSkipped
	}
	logger.Info().Dur("duration", duration).Msg("run finished successfully")
	return exitOK
}

func writeRunStatus(status *statusfile.Writer, logger zerolog.Logger, runErr error) {
	doc := statusfile.Status{State: statusfile.StateOK, Time: time.Now().Unix()}
	if runErr != nil {
		doc.State = statusfile.StateError
		doc.Message = runErr.Error()
	}
	if err := status.Write("run", doc); err != nil {
		logger.Warn().Err(err).Msg("failed to write run status")
	}
}
