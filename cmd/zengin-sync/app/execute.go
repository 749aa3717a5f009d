package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstation/zenginsync/cmd/zengin-sync/cmd/detect"
	"github.com/agentstation/zenginsync/cmd/zengin-sync/cmd/execute"
	"github.com/agentstation/zenginsync/cmd/zengin-sync/cmd/export"
	"github.com/agentstation/zenginsync/cmd/zengin-sync/cmd/serve"
	"github.com/agentstation/zenginsync/internal/config"
	"github.com/agentstation/zenginsync/pkg/errors"
)

// Execute runs the CLI with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "zengin-sync",
		Short:   "Keep the bank and branch master in sync with the zengin dataset",
		Version: a.version,
		Long: `zengin-sync mirrors the authoritative bank and branch dataset into the
m_bank table of the system of record.

Detected changes are stored in full, summarized in an approval message and
applied in one transaction once an operator approves them, either
immediately, at the nightly cutover or after a relative delay.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.AddGroup(&cobra.Group{
		ID:    "core",
		Title: "Core Commands:",
	})

	rootCmd.PersistentFlags().StringVar(&a.flags.ConfigFile, "config", "", "config file (default is $HOME/"+config.FileName+".yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.flags.Verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolVarP(&a.flags.Quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().BoolVar(&a.flags.NoColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&a.flags.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")

	rootCmd.SetVersionTemplate("zengin-sync {{.Version}}\n")

	a.registerCommands(rootCmd)
	return rootCmd
}

// setupCommand is called before any command runs.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	if a.flags.ConfigFile != "" {
		cfg, err := config.Load(a.flags.ConfigFile)
		if err != nil {
			return errors.WrapResource("load", "config", a.flags.ConfigFile, err)
		}
		a.config = cfg
	}

	logger := NewLogger(a.flags, a.config, cmd.Name())
	a.logger = &logger

	if a.config.ConfigFile != "" {
		a.logger.Debug().Str("file", a.config.ConfigFile).Msg("Using config file")
	}
	return nil
}

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	for _, cmd := range []*cobra.Command{
		detect.NewCommand(a),
		serve.NewCommand(a),
		execute.NewCommand(a),
		export.NewCommand(a),
	} {
		cmd.GroupID = "core"
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(a.NewVersionCommand())
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("zengin-sync %s\n", a.version)
			if a.flags.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}

// ExitOnError prints err and exits with status 1.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
