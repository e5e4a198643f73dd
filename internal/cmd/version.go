package cmd

import (
	"fmt"

	"EnigmaNetz/Enigma-Go-DVR/internal/version"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
