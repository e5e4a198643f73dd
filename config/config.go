package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"EnigmaNetz/Enigma-Go-DVR/internal/capture"
	"EnigmaNetz/Enigma-Go-DVR/internal/capture/common"
	"EnigmaNetz/Enigma-Go-DVR/internal/logger"
	"EnigmaNetz/Enigma-Go-DVR/internal/retention"
	"EnigmaNetz/Enigma-Go-DVR/internal/segment"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// DVR_CAMERA_RTSP_URL for camera.rtsp_url.
const EnvPrefix = "DVR"

// ErrNoStreamURL is returned when neither camera.rtsp_url nor camera.host is set.
var ErrNoStreamURL = errors.New("camera.rtsp_url or camera.host must be set")

// Config represents the application configuration
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// LoggingConfig controls log output and rotation
type LoggingConfig struct {
	// Level is the minimum log level to output (debug, info, warn, error)
	Level string `mapstructure:"level"`
	// File is the path to the log file. If empty, logs to stdout only
	File string `mapstructure:"file"`
	// MaxSizeMB is the maximum size of log file before rotation
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated log files are kept
	MaxBackups int `mapstructure:"max_backups"`
	// LogRetentionDays removes rotated log files older than this
	LogRetentionDays int `mapstructure:"log_retention_days"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// CameraConfig describes where the stream comes from
type CameraConfig struct {
	// RTSPURL is the full stream URL. Takes precedence over Host/Port/Path
	RTSPURL string `mapstructure:"rtsp_url"`
	// Username and Password are injected into the URL when set
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Host, Port and Path build rtsp://host:port/path when RTSPURL is empty
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
	// Transport is the RTSP lower transport: tcp, udp or http
	Transport string `mapstructure:"transport"`
}

// CaptureConfig controls segment recording
type CaptureConfig struct {
	// OutputDir is where segment files are stored
	OutputDir string `mapstructure:"output_dir"`
	// SegmentDuration is the length of each segment file
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	// SegmentPrefix is the file name prefix, segments are <prefix>_<sequence>.<ext>
	SegmentPrefix string `mapstructure:"segment_prefix"`
	// Format is the segment container: mpegts or mp4
	Format string `mapstructure:"format"`
	// FFmpegBin is the ffmpeg executable. Empty means ffmpeg on PATH
	FFmpegBin string `mapstructure:"ffmpeg_bin"`
	// DropAudio records video only
	DropAudio bool `mapstructure:"drop_audio"`
	// RetryDelay is the first restart delay; it grows linearly per failure
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxRetryDelay caps the restart delay
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	// StallTimeout restarts ffmpeg when no segment appears for this long.
	// 0 means three segment durations, negative disables the watchdog
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	// StopTimeout is how long ffmpeg gets to finalize the open segment on shutdown
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// RetentionConfig controls the sweeper
type RetentionConfig struct {
	// MaxCount keeps at most this many segments (0 disables)
	MaxCount int `mapstructure:"max_count"`
	// MaxAge deletes segments older than this (0 disables)
	MaxAge time.Duration `mapstructure:"max_age"`
	// MinAge protects recently written segments.
	// 0 means two segment durations, negative disables the protection
	MinAge time.Duration `mapstructure:"min_age"`
	// SweepInterval is how often the output directory is trimmed
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// DefaultPaths returns the config file locations searched when none is given.
func DefaultPaths() []string {
	if runtime.GOOS == "windows" {
		return []string{
			`C:\ProgramData\EnigmaDVR\config.json`,
			"config.json",
		}
	}
	return []string{
		"/etc/enigma-dvr/config.json",
		"config.json",
	}
}

// FindConfigFile returns the first existing path from DefaultPaths, or ""
// when there is none.
func FindConfigFile() string {
	for _, path := range DefaultPaths() {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// SetDefaults registers every key with its default so that environment
// variables are honored even when the file omits the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", filepath.Join("logs", "enigma-dvr.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.log_retention_days", 7)
	v.SetDefault("logging.compress", true)

	v.SetDefault("camera.rtsp_url", "")
	v.SetDefault("camera.username", "")
	v.SetDefault("camera.password", "")
	v.SetDefault("camera.host", "")
	v.SetDefault("camera.port", 554)
	v.SetDefault("camera.path", "")
	v.SetDefault("camera.transport", "tcp")

	v.SetDefault("capture.output_dir", "dvr_recordings")
	v.SetDefault("capture.segment_duration", "5m")
	v.SetDefault("capture.segment_prefix", segment.DefaultPrefix)
	v.SetDefault("capture.format", common.FormatMPEGTS)
	v.SetDefault("capture.ffmpeg_bin", "")
	v.SetDefault("capture.drop_audio", false)
	v.SetDefault("capture.retry_delay", "10s")
	v.SetDefault("capture.max_retry_delay", "60s")
	v.SetDefault("capture.stall_timeout", "0s")
	v.SetDefault("capture.stop_timeout", "15s")

	v.SetDefault("retention.max_count", 0)
	v.SetDefault("retention.max_age", "48h")
	v.SetDefault("retention.min_age", "0s")
	v.SetDefault("retention.sweep_interval", "1h")
}

// LoadConfig loads configuration from a JSON file and DVR_* environment
// variables. An empty configPath loads defaults and the environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("json")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// secondsToDurationHook reads a bare number such as 300 or "300" as seconds,
// the way chunk lengths are usually written. Values with a unit ("5m") are
// left for the standard duration hook.
func secondsToDurationHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch n := data.(type) {
	case int:
		return time.Duration(n) * time.Second, nil
	case int64:
		return time.Duration(n) * time.Second, nil
	case float64:
		return time.Duration(n * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
	}
	return data, nil
}

// ValidateAndSetDefaults resolves derived values and rejects configurations
// the recorder cannot run with.
func (c *Config) ValidateAndSetDefaults() error {
	if _, err := logger.ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}

	if _, err := c.StreamURL(); err != nil {
		return err
	}
	c.Camera.Transport = strings.ToLower(strings.TrimSpace(c.Camera.Transport))
	switch c.Camera.Transport {
	case "tcp", "udp", "http":
	default:
		return fmt.Errorf("invalid camera.transport %q: must be tcp, udp or http", c.Camera.Transport)
	}

	if strings.TrimSpace(c.Capture.OutputDir) == "" {
		return errors.New("capture.output_dir must be set")
	}
	if c.Capture.SegmentDuration < time.Second {
		return fmt.Errorf("capture.segment_duration must be at least 1s, got %s", c.Capture.SegmentDuration)
	}
	if err := validateSegmentPrefix(c.Capture.SegmentPrefix); err != nil {
		return err
	}
	c.Capture.Format = strings.ToLower(strings.TrimSpace(c.Capture.Format))
	if _, err := extensionFor(c.Capture.Format); err != nil {
		return err
	}
	if c.Capture.RetryDelay < 0 || c.Capture.MaxRetryDelay < 0 || c.Capture.StopTimeout < 0 {
		return errors.New("capture retry and stop timeouts must not be negative")
	}
	if c.Capture.StallTimeout == 0 {
		c.Capture.StallTimeout = 3 * c.Capture.SegmentDuration
	}

	if c.Retention.MinAge == 0 {
		c.Retention.MinAge = 2 * c.Capture.SegmentDuration
	}
	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention.sweep_interval must be positive, got %s", c.Retention.SweepInterval)
	}
	if err := c.RetentionPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid retention: %w", err)
	}
	return nil
}

// StreamURL returns the camera URL with credentials applied.
func (c *Config) StreamURL() (string, error) {
	raw := strings.TrimSpace(c.Camera.RTSPURL)
	if raw == "" {
		host := strings.TrimSpace(c.Camera.Host)
		if host == "" {
			return "", ErrNoStreamURL
		}
		if c.Camera.Port > 0 {
			host = net.JoinHostPort(host, strconv.Itoa(c.Camera.Port))
		}
		raw = "rtsp://" + host + "/" + strings.TrimLeft(c.Camera.Path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid camera URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps":
	default:
		return "", fmt.Errorf("invalid camera URL scheme %q: must be rtsp or rtsps", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", errors.New("invalid camera URL: missing host")
	}
	switch {
	case c.Camera.Username != "" && c.Camera.Password != "":
		u.User = url.UserPassword(c.Camera.Username, c.Camera.Password)
	case c.Camera.Username != "":
		u.User = url.User(c.Camera.Username)
	}
	return u.String(), nil
}

// Naming returns the segment naming derived from the capture settings.
func (c *Config) Naming() segment.Naming {
	ext, err := extensionFor(c.Capture.Format)
	if err != nil {
		ext = segment.DefaultExtension
	}
	return segment.Naming{Prefix: c.Capture.SegmentPrefix, Extension: ext}
}

// RetentionPolicy returns the sweeper policy. A negative MinAge disables the
// protection window.
func (c *Config) RetentionPolicy() retention.Policy {
	minAge := c.Retention.MinAge
	if minAge < 0 {
		minAge = 0
	}
	return retention.Policy{
		MaxCount: c.Retention.MaxCount,
		MaxAge:   c.Retention.MaxAge,
		MinAge:   minAge,
	}
}

// SweeperConfig returns the retention sweeper settings.
func (c *Config) SweeperConfig() retention.Config {
	return retention.Config{
		Dir:      c.Capture.OutputDir,
		Naming:   c.Naming(),
		Policy:   c.RetentionPolicy(),
		Interval: c.Retention.SweepInterval,
	}
}

// RunnerConfig returns the capture supervisor settings. Call after
// ValidateAndSetDefaults.
func (c *Config) RunnerConfig() (capture.RunnerConfig, error) {
	streamURL, err := c.StreamURL()
	if err != nil {
		return capture.RunnerConfig{}, err
	}
	stall := c.Capture.StallTimeout
	if stall < 0 {
		stall = 0
	}
	return capture.RunnerConfig{
		Capture: common.CaptureConfig{
			StreamURL:       streamURL,
			OutputDir:       c.Capture.OutputDir,
			SegmentDuration: c.Capture.SegmentDuration,
			Naming:          c.Naming(),
			Format:          c.Capture.Format,
			Transport:       c.Camera.Transport,
			DropAudio:       c.Capture.DropAudio,
			StopTimeout:     c.Capture.StopTimeout,
		},
		RetryDelay:    c.Capture.RetryDelay,
		MaxRetryDelay: c.Capture.MaxRetryDelay,
		StallTimeout:  stall,
	}, nil
}

// PrepareOutputDir creates the output directory and checks that it is
// writable. Failing here aborts startup.
func (c *Config) PrepareOutputDir() error {
	dir := c.Capture.OutputDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(name)
}

// Summary describes the configuration for logs without exposing credentials.
func (c *Config) Summary() string {
	streamURL, err := c.StreamURL()
	if err != nil {
		streamURL = "<unset>"
	} else if u, perr := url.Parse(streamURL); perr == nil {
		streamURL = u.Redacted()
	}
	return fmt.Sprintf("camera=%s transport=%s output_dir=%s segment=%s format=%s retention={%s} sweep_interval=%s",
		streamURL, c.Camera.Transport, c.Capture.OutputDir, c.Capture.SegmentDuration,
		c.Capture.Format, c.RetentionPolicy(), c.Retention.SweepInterval)
}

// InitializeLogging sets up logging based on config
func (c *Config) InitializeLogging() error {
	level, err := logger.ParseLogLevel(c.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logConfig := logger.Config{
		LogLevel:   level,
		LogFile:    c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.LogRetentionDays,
		Compress:   c.Logging.Compress,
	}
	if err := logger.Initialize(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Route the standard logger through the same outputs.
	log.SetOutput(logger.GetLogger().Writer())
	return nil
}

// validateSegmentPrefix only allows characters that are safe in a file name
// and in ffmpeg's printf-style output pattern.
func validateSegmentPrefix(prefix string) error {
	if prefix == "" {
		return errors.New("capture.segment_prefix cannot be empty")
	}
	if len(prefix) > 64 {
		return fmt.Errorf("capture.segment_prefix too long: %d characters", len(prefix))
	}
	for _, r := range prefix {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return fmt.Errorf("capture.segment_prefix contains invalid characters: %q", prefix)
		}
	}
	return nil
}

func extensionFor(format string) (string, error) {
	switch format {
	case common.FormatMPEGTS:
		return "ts", nil
	case common.FormatMP4:
		return "mp4", nil
	default:
		return "", fmt.Errorf("invalid capture.format %q: must be mpegts or mp4", format)
	}
}
