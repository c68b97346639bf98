package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"go.olrik.dev/sentinel/internal/core"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sentinel %s\n", core.Version)
		},
	}
}
