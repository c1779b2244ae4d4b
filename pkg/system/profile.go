package system

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Profile describes the host the server runs on.
type Profile struct {
	OS       string
	Distro   string
	Version  string
	Kernel   string
	Arch     string
	Shell    Shell
	Hostname string
}

func Detect() (*Profile, error) {
	profile := &Profile{
		OS:    runtime.GOOS,
		Arch:  runtime.GOARCH,
		Shell: DefaultShell(),
	}
	profile.Hostname, _ = os.Hostname()

	switch runtime.GOOS {
	case "linux":
		profile.Distro, profile.Version = parseOSRelease("/etc/os-release")
		profile.Kernel, _ = uname("-r")
	case "darwin":
		profile.Distro = "macos"
		if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
			profile.Version = strings.TrimSpace(string(out))
		}
		profile.Kernel, _ = uname("-r")
	case "windows":
		profile.Distro = "windows"
		profile.Version = os.Getenv("OS")
	}

	return profile, nil
}

func parseOSRelease(path string) (string, string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	var distro, version string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "ID=") {
			distro = strings.Trim(strings.TrimPrefix(line, "ID="), "\"'")
		}
		if strings.HasPrefix(line, "VERSION_ID=") {
			version = strings.Trim(strings.TrimPrefix(line, "VERSION_ID="), "\"'")
		}
	}
	return distro, version
}

func uname(arg string) (string, error) {
	out, err := exec.Command("uname", arg).Output()
	if err != nil {
		return "", fmt.Errorf("uname %s: %w", arg, err)
	}
	return strings.TrimSpace(string(out)), nil
}
