package metadata

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/google/uuid"

	"EnigmaNetz/Enigma-Go-DVR/internal/version"
)

// maxHostIPs limits the number of addresses reported for hosts with many
// NICs, VPNs or container networks.
const maxHostIPs = 10

// getHostIPAddresses returns private IPv4 addresses of this host. Addresses
// on the same subnet as cameraHost come first, since that is the interface
// the stream arrives on.
func getHostIPAddresses(cameraHost string) []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	cameraIP := net.ParseIP(cameraHost)

	var sameSubnet, others []string
	seen := make(map[string]bool)
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsPrivate() || seen[ip.String()] {
				continue
			}
			seen[ip.String()] = true
			if cameraIP != nil && ipnet.Contains(cameraIP) {
				sameSubnet = append(sameSubnet, ip.String())
			} else {
				others = append(others, ip.String())
			}
		}
	}

	ips := append(sameSubnet, others...)
	if len(ips) > maxHostIPs {
		ips = ips[:maxHostIPs]
	}
	return ips
}

// GenerateMetadata describes this recorder host and run. session_id is new
// on every call so that log lines from separate runs can be told apart.
func GenerateMetadata(cameraHost string) map[string]string {
	metadata := make(map[string]string)

	metadata["machine_id"] = generateMachineID()
	metadata["dvr_version"] = version.Version
	metadata["os_name"] = runtime.GOOS
	metadata["os_version"] = getOSVersion()
	metadata["architecture"] = runtime.GOARCH
	if cameraHost != "" {
		metadata["camera_host"] = cameraHost
	}

	hostIPs := getHostIPAddresses(cameraHost)
	if len(hostIPs) > 0 {
		metadata["host_ips"] = strings.Join(hostIPs, ",")
	}

	metadata["session_id"] = uuid.New().String()
	return metadata
}

// Format renders metadata as sorted key=value lines.
func Format(metadata map[string]string) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, metadata[k])
	}
	return b.String()
}

// generateMachineID hashes the primary MAC address so the host can be
// recognized across runs without exposing the address itself.
func generateMachineID() string {
	macAddr := getPrimaryMACAddress()
	if macAddr == "" {
		macAddr = "unknown-device"
	}
	hash := sha256.Sum256([]byte(macAddr))
	return hex.EncodeToString(hash[:])
}

// getPrimaryMACAddress gets the MAC address of the primary network interface
func getPrimaryMACAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	sort.Slice(interfaces, func(i, j int) bool {
		return interfaces[i].Name < interfaces[j].Name
	})

	// Prefer physical ethernet, then wifi, then any other
	for _, priority := range []string{"eth", "en", "wlan", "wl"} {
		for _, iface := range interfaces {
			if strings.HasPrefix(iface.Name, priority) &&
				iface.Flags&net.FlagLoopback == 0 &&
				len(iface.HardwareAddr) > 0 {
				return iface.HardwareAddr.String()
			}
		}
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			return iface.HardwareAddr.String()
		}
	}
	return ""
}

func getOSVersion() string {
	switch runtime.GOOS {
	case "windows":
		out, err := exec.Command("cmd", "/c", "ver").Output()
		if err != nil {
			return "Windows"
		}
		if _, v, ok := strings.Cut(strings.TrimSpace(string(out)), "Version"); ok {
			return "Windows " + strings.Trim(v, " []")
		}
		return "Windows"
	case "linux":
		return getLinuxVersion()
	case "darwin":
		out, err := exec.Command("sw_vers", "-productVersion").Output()
		if err != nil {
			return "macOS"
		}
		return "macOS " + strings.TrimSpace(string(out))
	default:
		return runtime.GOOS
	}
}

// getLinuxVersion reads from /etc/os-release
func getLinuxVersion() string {
	file, err := os.Open("/etc/os-release")
	if err != nil {
		return "Linux"
	}
	defer file.Close()

	var name, ver string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "NAME=") {
			name = strings.Trim(strings.TrimPrefix(line, "NAME="), "\"")
		} else if strings.HasPrefix(line, "VERSION=") {
			ver = strings.Trim(strings.TrimPrefix(line, "VERSION="), "\"")
		}
	}

	switch {
	case name != "" && ver != "":
		return name + " " + ver
	case name != "":
		return name
	default:
		return "Linux"
	}
}
