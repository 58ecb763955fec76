package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/mscno/staffsync"
	"github.com/mscno/staffsync/pkg/config"
	"github.com/mscno/staffsync/pkg/logging"
	"github.com/mscno/staffsync/pkg/oskeyring"
)

const defaultConfigFile = "staffsync.yaml"

type cliCtx struct {
	context.Context
	Logger  *slog.Logger
	Config  *config.Config
	Keyring oskeyring.Service
	// In answers confirmation prompts.
	In io.Reader
}

type cli struct {
	ConfigFile string `name:"config" help:"YAML config file" default:"staffsync.yaml" short:"c"`
	EnvFile    string `help:"dotenv file loaded before the environment" default:".env"`
	LogLevel   string `help:"Log level (debug, info, warn, error); overrides the config file"`
	LogFormat  string `help:"Log format (text, json); overrides the config file"`
	NoKeyring  bool   `help:"Do not read API keys from the OS keyring"`

	Harvest   HarvestCmd       `cmd:"" help:"Reconcile active persons with the directory and write the record snapshot"`
	Update    UpdateCmd        `cmd:"" help:"Merge the record snapshot into the registry"`
	Sync      SyncCmd          `cmd:"" help:"Harvest and update in one run"`
	Directory DirectoryCmd     `cmd:"" help:"Inspect the staff directory"`
	Auth      AuthCmd          `cmd:"" help:"Manage registry API keys in the OS keyring"`
	Version   kong.VersionFlag `help:"Show version"`
}

func Execute(version string) {
	var cli cli
	ctx := kong.Parse(&cli,
		kong.UsageOnError(),
		kong.Name("staffsync"),
		kong.Description("staffsync copies staff profiles from the university directory into the registry"),
		kong.Vars{"version": version},
	)

	var keyring oskeyring.Service = oskeyring.NewDefaultService()
	if cli.NoKeyring {
		keyring = oskeyring.NewMemoryService()
	}
	cfg, err := config.Load(config.Options{
		File:         cli.ConfigFile,
		FileOptional: cli.ConfigFile == defaultConfigFile,
		EnvFile:      cli.EnvFile,
		Keyring:      keyring,
	})
	ctx.FatalIfErrorf(err)

	level, format := cfg.Logging.Level, cfg.Logging.Format
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}
	logger := logging.Setup(level, format, os.Stderr)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = ctx.Run(&cliCtx{
		Context: runCtx,
		Logger:  logger,
		Config:  cfg,
		Keyring: keyring,
		In:      os.Stdin,
	})
	ctx.FatalIfErrorf(err)
}

// openSyncer builds a Syncer from the loaded config.
func openSyncer(ctx *cliCtx, needRegistry bool) (*staffsync.Syncer, error) {
	return staffsync.New(ctx, ctx.Config, needRegistry, ctx.Logger)
}

// pushMetrics pushes the run metrics. A failed push is logged, not returned.
func pushMetrics(ctx *cliCtx, s *staffsync.Syncer, stage string) {
	if err := s.PushMetrics(ctx, stage); err != nil {
		ctx.Logger.Warn("Failed to push metrics", "stage", stage, "error", err)
	}
}

// confirm asks a yes/no question on stdout and reads the answer from in.
// Only y or yes counts as consent.
func confirm(in io.Reader, prompt string) bool {
	if in == nil {
		return false
	}
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
