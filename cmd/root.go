package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.olrik.dev/sentinel/internal/core"
)

func NewRootCommand() *cobra.Command {
	var runtimeDir string
	var stop bool
	var status bool
	var format string

	rootCmd := &cobra.Command{
		Use:   "sentinel",
		Short: "Sentinel - command channel supervisor",
		Long: `Sentinel keeps a command channel serviced at all times. It polls for
commands itself until the heavier companion process is up, queues what
arrives in the meantime, hands the queue over once the companion reports
healthy, and takes polling back the moment the companion dies.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := core.Load(runtimeDir)
			if err != nil {
				return err
			}
			switch {
			case stop && status:
				return fmt.Errorf("--stop and --status are mutually exclusive")
			case stop:
				return runStop(cmd.OutOrStdout(), settings)
			case status:
				return runStatus(cmd.OutOrStdout(), settings, format)
			default:
				return runSentinel(settings)
			}
		},
	}

	rootCmd.Flags().StringVar(&runtimeDir, "runtime-dir", "", "runtime directory (default ~/.config/sentinel)")
	rootCmd.Flags().BoolVar(&stop, "stop", false, "stop a running sentinel instance")
	rootCmd.Flags().BoolVar(&status, "status", false, "show the status of a running sentinel instance")
	rootCmd.Flags().StringVar(&format, "format", "text", "status output format (text or json)")

	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}
