// AgriAgent is an AI assistant for smallholder farmers.
//
// It serves an HTTP API for text and voice questions, crop image
// diagnosis, and a daily farm card, and a CLI for one-shot use.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one, built-in
// defaults and environment variables are used.
//
// Usage:
//
//	agriagent serve                 Start the API server
//	agriagent init [dir]            Write a starter config.yaml
//	agriagent ask <question>        Ask a single question
//	agriagent card [--location ...] Print today's farm card
//	agriagent usage [--period ...]  Summarize gateway token usage
//	agriagent version               Print version and build information
//	agriagent -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agriagent/agriagent/internal/buildinfo"
	"github.com/agriagent/agriagent/internal/config"
)

// main constructs the OS-level environment and delegates to [run] so the
// command tree can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// globalOpts are the persistent flags shared by every subcommand.
type globalOpts struct {
	configPath string
	output     string
	logLevel   string
}

// run builds a fresh command tree for each call, so concurrent tests do
// not share flag state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOpts{}

	root := &cobra.Command{
		Use:           "agriagent",
		Short:         "AgriAgent - AI assistant for smallholder farmers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	pf.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	pf.StringVar(&opts.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newServeCmd(opts),
		newInitCmd(),
		newAskCmd(opts),
		newCardCmd(opts),
		newUsageCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

func newVersionCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd.OutOrStdout(), opts.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. An explicit
// path must exist. Without one, the default search paths are tried and
// built-in defaults are used when none is found. Secrets missing from
// the file are filled from the environment. The returned path is empty
// when defaults are in use.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg := config.Default()
		cfg.ApplyEnv()
		return cfg, "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	cfg.ApplyEnv()
	return cfg, cfgPath, nil
}

// newLogger builds the process logger from config, honoring the
// --log-level override.
func newLogger(w io.Writer, cfg *config.Config, override string) (*slog.Logger, error) {
	name := cfg.LogLevel
	if override != "" {
		name = override
	}
	level, err := config.ParseLogLevel(name)
	if err != nil {
		return nil, err
	}
	return config.NewLogger(w, level, strings.ToLower(cfg.LogFormat)), nil
}
