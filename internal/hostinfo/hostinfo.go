// Package hostinfo describes the device for diagnostics and decides whether
// its Windows build writes ESP tracking keys at all.
package hostinfo

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/shirou/gopsutil/v3/host"
)

type Info struct {
	Hostname        string    `json:"hostname" yaml:"hostname"`
	OSType          string    `json:"osType" yaml:"osType"`
	Platform        string    `json:"platform" yaml:"platform"`
	OSVersion       string    `json:"osVersion" yaml:"osVersion"`
	KernelVersion   string    `json:"kernelVersion,omitempty" yaml:"kernelVersion,omitempty"`
	Architecture    string    `json:"architecture" yaml:"architecture"`
	BootTime        time.Time `json:"bootTime,omitempty" yaml:"bootTime,omitempty"`
	UptimeSeconds   uint64    `json:"uptimeSeconds" yaml:"uptimeSeconds"`
	TrackingCapable bool      `json:"espTrackingCapable" yaml:"espTrackingCapable"`
}

// Collect gathers host facts. minBuild is compared against the platform
// version on Windows; elsewhere TrackingCapable is always false.
func Collect(minBuild string) (Info, error) {
	info := Info{
		OSType:       runtime.GOOS,
		Architecture: runtime.GOARCH,
	}

	hi, err := host.Info()
	if err != nil {
		return info, fmt.Errorf("host info: %w", err)
	}
	info.Hostname = hi.Hostname
	info.Platform = hi.Platform
	info.OSVersion = hi.PlatformVersion
	info.KernelVersion = hi.KernelVersion
	info.UptimeSeconds = hi.Uptime
	if hi.BootTime > 0 {
		info.BootTime = time.Unix(int64(hi.BootTime), 0).UTC()
	}

	if hi.OS == "windows" {
		capable, err := MeetsBuild(windowsBuild(hi.PlatformVersion, hi.KernelVersion), minBuild)
		if err != nil {
			return info, err
		}
		info.TrackingCapable = capable
	}
	return info, nil
}

// windowsBuild prefers the kernel version ("10.0.22631.4317 Build 22631.4317")
// and falls back to the platform version.
func windowsBuild(platformVersion, kernelVersion string) string {
	for _, candidate := range []string{kernelVersion, platformVersion} {
		if fields := strings.Fields(candidate); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// MeetsBuild reports whether osVersion is at or above minBuild. An empty
// minBuild accepts everything.
func MeetsBuild(osVersion, minBuild string) (bool, error) {
	if strings.TrimSpace(minBuild) == "" {
		return true, nil
	}
	floor, err := version.NewVersion(minBuild)
	if err != nil {
		return false, fmt.Errorf("minimum build %q: %w", minBuild, err)
	}
	got, err := version.NewVersion(strings.TrimSpace(osVersion))
	if err != nil {
		return false, fmt.Errorf("os version %q: %w", osVersion, err)
	}
	return got.GreaterThanOrEqual(floor), nil
}
