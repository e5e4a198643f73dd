package cmd

import (
	"fmt"

	"EnigmaNetz/Enigma-Go-DVR/internal/retention"

	"github.com/spf13/cobra"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply the retention policy once and exit",
	Long: `Sweep deletes the segments the retention policy selects, exactly as
the background sweeper would, and exits. The newest segment is never
deleted. Use --dry-run to list what would be removed.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list the segments that would be deleted without deleting them")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.InitializeLogging(); err != nil {
		return err
	}

	sc := cfg.SweeperConfig()
	sc.DryRun = sweepDryRun
	res, err := retention.NewSweeper(sc).Sweep(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	out := cmd.OutOrStdout()
	verb := "Removed"
	if sc.DryRun {
		verb = "Would remove"
		for _, name := range res.Removed {
			fmt.Fprintln(out, name)
		}
	}
	fmt.Fprintf(out, "%s %d of %d segments (%s) with %s\n",
		verb, len(res.Removed), res.Scanned, retention.FormatBytes(res.FreedBytes), sc.Policy)
	if len(res.Failed) > 0 {
		return fmt.Errorf("failed to delete %d segments", len(res.Failed))
	}
	return nil
}
