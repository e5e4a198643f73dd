package cmd

import (
	"fmt"
	"log"

	"EnigmaNetz/Enigma-Go-DVR/internal/recorder"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Record the camera until interrupted",
	Long: `Run starts ffmpeg against the configured camera, writes segment files
into the output directory and trims them according to the retention
settings. SIGINT or SIGTERM stops ffmpeg gracefully so the open segment
is finalized.`,
	Args: cobra.NoArgs,
	RunE: runRecorder,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRecorder(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.InitializeLogging(); err != nil {
		return err
	}
	if path != "" {
		log.Printf("Loaded config from %s", path)
	} else {
		log.Printf("No config file found, using defaults and environment")
	}

	ffmpegVersion, err := checkFFmpeg(cfg.Capture.FFmpegBin)
	if err != nil {
		return fmt.Errorf("ffmpeg is required: %w", err)
	}
	log.Printf("Using %s", ffmpegVersion)

	return recorder.RunRecorder(cmd.Context(), cfg, newCapturer(cfg.Capture.FFmpegBin))
}
