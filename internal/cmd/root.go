package cmd

import (
	"fmt"

	"EnigmaNetz/Enigma-Go-DVR/config"
	"EnigmaNetz/Enigma-Go-DVR/internal/capture/common"
	"EnigmaNetz/Enigma-Go-DVR/internal/capture/ffmpeg"
	"EnigmaNetz/Enigma-Go-DVR/internal/version"

	"github.com/spf13/cobra"
)

var (
	configFile string
	rtspURL    string
	outputDir  string
)

// Hooks replaced in tests so no real ffmpeg is needed.
var (
	newCapturer = func(bin string) common.Capturer { return ffmpeg.NewCapturer(bin) }
	checkFFmpeg = ffmpeg.Check
)

var rootCmd = &cobra.Command{
	Use:   "enigma-dvr",
	Short: "Continuous RTSP camera recorder with retention",
	Long: `Enigma DVR records an RTSP camera into fixed-length segment files
using ffmpeg, restarts the capture whenever it exits, and periodically
deletes old segments by count or age.

Without a subcommand it behaves like "enigma-dvr run".`,
	SilenceUsage: true,
	RunE:         runRecorder,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = version.Version

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is /etc/enigma-dvr/config.json or ./config.json)")
	rootCmd.PersistentFlags().StringVar(&rtspURL, "rtsp-url", "", "camera stream URL, overrides camera.rtsp_url")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "", "segment directory, overrides capture.output_dir")
}

// loadConfig reads the config file and environment, applies command line
// overrides and validates the result.
func loadConfig() (*config.Config, string, error) {
	path := configFile
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, path, err
	}
	if rtspURL != "" {
		cfg.Camera.RTSPURL = rtspURL
	}
	if outputDir != "" {
		cfg.Capture.OutputDir = outputDir
	}
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, path, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, path, nil
}
