package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pressly/cli"
	"github.com/rs/zerolog"

	"github.com/stefanvanburen/solls/internal/config"
	"github.com/stefanvanburen/solls/internal/logging"
	"github.com/stefanvanburen/solls/internal/lsp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.ParseAndRun(ctx, newRoot(), os.Args[1:], nil); err != nil {
		if !errors.Is(err, errDiagnostics) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRoot() *cli.Command {
	return &cli.Command{
		Name:      "solls",
		ShortHelp: "A language server that keeps editor documents in sync and publishes diagnostics",
		SubCommands: []*cli.Command{
			{
				Name:      "serve",
				ShortHelp: "Start the language server (communicates over stdin/stdout)",
				Flags: cli.FlagsFunc(func(f *flag.FlagSet) {
					f.String("config", "", "path to a TOML configuration file")
					f.String("log-level", "", "override the configured log level")
					f.String("log-file", "", "write logs to this file instead of stderr")
				}),
				Exec: func(ctx context.Context, s *cli.State) error {
					cfg, err := loadConfig(cli.GetFlag[string](s, "config"))
					if err != nil {
						return err
					}
					if level := cli.GetFlag[string](s, "log-level"); level != "" {
						cfg.Log.Level = level
					}
					if file := cli.GetFlag[string](s, "log-file"); file != "" {
						cfg.Log.File = file
					}
					if err := cfg.Validate(); err != nil {
						return err
					}
					log, closer, err := logging.New(cfg.Log)
					if err != nil {
						return err
					}
					defer closer.Close()
					log.Info().Str("version", lsp.Version).Msg("starting")
					return lsp.Serve(ctx, lsp.WithLogger(log), lsp.WithConfig(cfg))
				},
			},
			{
				Name:      "check",
				Usage:     "solls check [--config FILE] FILE...",
				ShortHelp: "Print the diagnostics of the given files and exit non-zero on errors",
				Flags: cli.FlagsFunc(func(f *flag.FlagSet) {
					f.String("config", "", "path to a TOML configuration file")
				}),
				Exec: func(ctx context.Context, s *cli.State) error {
					if len(s.Args) == 0 {
						return errors.New("no files given, see --help")
					}
					cfg, err := loadConfig(cli.GetFlag[string](s, "config"))
					if err != nil {
						return err
					}
					log := logging.NewWriter(s.Stderr, cfg.Log.Format, zerolog.WarnLevel)
					return check(ctx, cfg, log, s.Args, s.Stdout)
				},
			},
		},
	}
}

// loadConfig reads the configuration file at path, or returns the defaults
// when path is empty.
func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
