package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Record live rooms to local transport stream files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Configuration file (default <base-dir>/configs.yml)")
	pf.StringVar(&flags.baseDir, "base-dir", "", "Directory holding config, logs, lock and relative output dirs (default: working directory)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config and LOG_LEVEL)")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: json or text (overrides LOG_FORMAT)")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newRecordCommand(ctx))

	return rootCmd
}
