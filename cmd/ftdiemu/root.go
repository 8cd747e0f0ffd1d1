package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Every command resolves its flags from
// the command line, then FTDIEMU_* variables, then the .env file, then the
// defaults.
func newRootCmd() *cobra.Command {
	var (
		logs    logOptions
		envFile string
	)

	root := &cobra.Command{
		Use:   "ftdiemu",
		Short: "Emulate an FT232 USB-to-serial bridge.",
		Long: `ftdiemu runs a software FT232R on a USB device transport and ` +
			`provides a terminal for the serial port the host driver creates.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			if err := applyEnv(cmd.Flags()); err != nil {
				return err
			}
			return logs.apply()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&logs.level, "log-level", "warn", "log level: debug|info|warn|error")
	flags.StringVar(&logs.format, "log-format", "text", "log format: text|json")
	flags.StringVar(&envFile, "env-file", defaultEnvFile, "file of FTDIEMU_* variables")

	root.AddCommand(newDeviceCmd(), newTermCmd())
	return root
}
