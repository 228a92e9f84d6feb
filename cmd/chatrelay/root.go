package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var envFlag string

	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Live-stream chat relay for Twitch, YouTube and TikTok",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env-file", ".env", "Optional dotenv file loaded before the configuration")

	rootCmd.AddCommand(newServeCommand(&configFlag, &envFlag))
	rootCmd.AddCommand(newNormalizeCommand())
	rootCmd.AddCommand(newConfigCommand(&configFlag))

	return rootCmd
}
