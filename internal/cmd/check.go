package cmd

import (
	"fmt"

	"EnigmaNetz/Enigma-Go-DVR/internal/segment"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and environment without recording",
	Long: `Check loads and validates the configuration, verifies that ffmpeg can
be executed and that the output directory is writable, then prints a
summary. It exits non-zero on the first problem found.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if path == "" {
		path = "<none>"
	}
	fmt.Fprintf(out, "Config file: %s\n", path)
	fmt.Fprintf(out, "Settings:    %s\n", cfg.Summary())

	ffmpegVersion, err := checkFFmpeg(cfg.Capture.FFmpegBin)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ffmpeg:      %s\n", ffmpegVersion)

	if err := cfg.PrepareOutputDir(); err != nil {
		return err
	}
	segments, err := segment.List(cfg.Capture.OutputDir, cfg.Naming())
	if err != nil {
		return err
	}
	next, err := segment.NextSequence(cfg.Capture.OutputDir, cfg.Naming())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Output:      %s (%d segments, next %s)\n",
		cfg.Capture.OutputDir, len(segments), cfg.Naming().Name(next))
	fmt.Fprintln(out, "OK")
	return nil
}
