package cmd

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/config"
	collect_logs "EnigmaNetz/Enigma-Go-DVR/internal/collect_logs"

	"github.com/spf13/cobra"
)

var collectLogsCmd = &cobra.Command{
	Use:   "collect-logs",
	Short: "Package logs, config and diagnostics into a zip archive for support",
	Long: `Collect-logs writes enigma-dvr-logs-<timestamp>.zip to the current
directory. It contains the log files, the config file, version and
system information, and a listing of the segment directory. Recordings
themselves are not included.`,
	Args: cobra.NoArgs,
	RunE: runCollectLogs,
}

func init() {
	rootCmd.AddCommand(collectLogsCmd)
}

func runCollectLogs(cmd *cobra.Command, args []string) error {
	opts := collect_logs.Options{}

	// A broken config should not prevent collecting the logs that explain it.
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		opts.ConfigFile = path
	}
	if cfg, err := config.LoadConfig(path); err == nil {
		if cfg.Logging.File != "" {
			opts.LogDir = filepath.Dir(cfg.Logging.File)
		}
		opts.SegmentDir = cfg.Capture.OutputDir
		if outputDir != "" {
			opts.SegmentDir = outputDir
		}
		opts.Naming = cfg.Naming()
		if streamURL, err := cfg.StreamURL(); err == nil {
			if u, err := url.Parse(streamURL); err == nil {
				opts.CameraHost = u.Hostname()
			}
		}
	}

	zipName := fmt.Sprintf("enigma-dvr-logs-%s.zip", time.Now().Format("20060102-150405"))
	if err := collect_logs.CollectLogs(zipName, opts); err != nil {
		return fmt.Errorf("failed to collect logs: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s with logs, config, and diagnostics.\n", zipName)
	return nil
}
