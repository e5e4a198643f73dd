package collect_logs

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"EnigmaNetz/Enigma-Go-DVR/internal/metadata"
	"EnigmaNetz/Enigma-Go-DVR/internal/segment"
	"EnigmaNetz/Enigma-Go-DVR/internal/version"
)

// Options selects what goes into the support bundle.
type Options struct {
	// LogDir is added file by file. Defaults to "logs".
	LogDir string
	// ConfigFile is added when it exists. Defaults to "config.json".
	ConfigFile string
	// SegmentDir is summarized in segments.txt. Recordings are never copied.
	SegmentDir string
	// Naming identifies segment files in SegmentDir.
	Naming segment.Naming
	// CameraHost orders host addresses in metadata.txt.
	CameraHost string
}

// CollectLogs creates a zip archive with logs, config, version, system info,
// host metadata and a listing of the recording directory for diagnostics.
// zipName is the output file name (e.g., "enigma-dvr-logs-YYYYMMDD-HHMMSS.zip").
func CollectLogs(zipName string, opts Options) error {
	if opts.LogDir == "" {
		opts.LogDir = "logs"
	}
	if opts.ConfigFile == "" {
		opts.ConfigFile = "config.json"
	}
	if opts.Naming.Prefix == "" {
		opts.Naming = segment.DefaultNaming()
	}

	zipFile, err := os.Create(zipName)
	if err != nil {
		return fmt.Errorf("failed to create zip: %w", err)
	}
	defer zipFile.Close()

	zipWriter := zip.NewWriter(zipFile)

	// logs/ may not exist
	if logFiles, err := os.ReadDir(opts.LogDir); err == nil {
		for _, entry := range logFiles {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(opts.LogDir, entry.Name())
			_ = addFileToZip(zipWriter, path, filepath.ToSlash(filepath.Join("logs", entry.Name())))
		}
	}

	if _, err := os.Stat(opts.ConfigFile); err == nil {
		_ = addFileToZip(zipWriter, opts.ConfigFile, "config.json")
	}

	_ = addStringToZip(zipWriter, "version.txt", version.Version+"\n")
	_ = addStringToZip(zipWriter, "system-info.txt", getSystemInfo())
	_ = addStringToZip(zipWriter, "metadata.txt", metadata.Format(metadata.GenerateMetadata(opts.CameraHost)))

	if opts.SegmentDir != "" {
		_ = addStringToZip(zipWriter, "segments.txt", segmentListing(opts.SegmentDir, opts.Naming))
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finalize zip: %w", err)
	}
	return nil
}

func addFileToZip(zipWriter *zip.Writer, filename, entryName string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w, err := zipWriter.Create(entryName)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, file)
	return err
}

func addStringToZip(zipWriter *zip.Writer, filename, content string) error {
	w, err := zipWriter.Create(filename)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte(content))
	return err
}

// segmentListing describes the recordings without including them; a day of
// video is far too large for a support bundle.
func segmentListing(dir string, naming segment.Naming) string {
	segments, err := segment.List(dir, naming)
	if err != nil {
		return fmt.Sprintf("Directory: %s\nError: %v\n", dir, err)
	}

	var b strings.Builder
	var total int64
	for _, s := range segments {
		total += s.Size
	}
	fmt.Fprintf(&b, "Directory: %s\nSegments: %d\nTotal size: %d bytes\n", dir, len(segments), total)
	if len(segments) > 0 {
		first, last := segments[0], segments[len(segments)-1]
		fmt.Fprintf(&b, "Oldest: %s (%s)\nNewest: %s (%s)\n",
			first.Name, first.ModTime.Format("2006-01-02 15:04:05"),
			last.Name, last.ModTime.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "%s\t%d\t%s\n", s.Name, s.Size, s.ModTime.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func getSystemInfo() string {
	var b strings.Builder
	b.WriteString("OS: ")
	b.WriteString(runtime.GOOS)
	b.WriteString("\nArch: ")
	b.WriteString(runtime.GOARCH)
	b.WriteString("\nGo version: ")
	b.WriteString(runtime.Version())
	b.WriteString(fmt.Sprintf("\nNumCPU: %d\n", runtime.NumCPU()))
	if hn, err := os.Hostname(); err == nil {
		b.WriteString("Hostname: ")
		b.WriteString(hn)
		b.WriteString("\n")
	}

	switch runtime.GOOS {
	case "linux":
		if f, err := os.Open("/etc/os-release"); err == nil {
			defer f.Close()
			b.WriteString("/etc/os-release:\n")
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "NAME=") || strings.HasPrefix(line, "VERSION=") || strings.HasPrefix(line, "PRETTY_NAME=") {
					b.WriteString("  " + line + "\n")
				}
			}
		}
		if out, err := exec.Command("uname", "-r").Output(); err == nil {
			b.WriteString("Kernel: " + strings.TrimSpace(string(out)) + "\n")
		}
	case "darwin":
		if out, err := exec.Command("sw_vers").Output(); err == nil {
			b.WriteString("sw_vers:\n")
			b.WriteString(string(out))
		}
	case "windows":
		if out, err := exec.Command("cmd", "/C", "ver").Output(); err == nil {
			b.WriteString("ver: " + strings.TrimSpace(string(out)) + "\n")
		}
	}

	// ffmpeg is the one external dependency worth reporting
	if out, err := exec.Command("ffmpeg", "-version").Output(); err == nil {
		first, _, _ := strings.Cut(string(out), "\n")
		b.WriteString("ffmpeg: " + strings.TrimSpace(first) + "\n")
	} else {
		b.WriteString("ffmpeg: not found on PATH\n")
	}
	return b.String()
}
