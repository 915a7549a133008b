package main

import (
	"github.com/spf13/cobra"

	"github.com/inkwell-ai/inkwell/pkg/logger"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	opts := logger.DefaultConfig()

	cmd := &cobra.Command{
		Use:     "inkwell",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindEnv("INKWELL_", cmd); err != nil {
				return err
			}
			logger.SetLogrus(*opts)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Level, "level", "l", opts.Level,
		"set the logging level (can be one of: debug, info, warn, error, or fatal)")
	cmd.PersistentFlags().BoolVar(&opts.Color, "color", opts.Color, "enable colored output")
	cmd.PersistentFlags().BoolVar(&opts.Structured, "structured", opts.Structured,
		"enable structured logging")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}
