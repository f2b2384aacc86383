// Package espsource collects the raw ESP inputs: tenant identity, the three
// category status blobs, the userless-enrollment marker and the Autopilot
// start marker.
package espsource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/breeze-rmm/espgate/internal/esp"
	"github.com/breeze-rmm/espgate/internal/logging"
)

var log = logging.L("espsource")

// ErrMarkerExists is returned when a start marker is already recorded.
var ErrMarkerExists = errors.New("autopilot start marker already present")

// Reader reads one raw snapshot of the ESP inputs.
type Reader interface {
	Read(ctx context.Context) (esp.Raw, error)
}

// ValueRef addresses a single registry value.
type ValueRef struct {
	Key   string `mapstructure:"key" yaml:"key" json:"key"`
	Value string `mapstructure:"value" yaml:"value" json:"value"`
}

func (r ValueRef) String() string {
	return r.Key + `\` + r.Value
}

// Paths locates every input in the registry.
type Paths struct {
	CloudAssignedTenant ValueRef `mapstructure:"cloud_assigned_tenant" yaml:"cloud_assigned_tenant"`
	// JoinInfo is enumerated; Value is read from every subkey.
	JoinInfo     ValueRef `mapstructure:"join_info" yaml:"join_info"`
	DevicePrep   ValueRef `mapstructure:"device_prep" yaml:"device_prep"`
	DeviceSetup  ValueRef `mapstructure:"device_setup" yaml:"device_setup"`
	AccountSetup ValueRef `mapstructure:"account_setup" yaml:"account_setup"`
	// Enrollments is enumerated; Value holds the enrollment UPN.
	Enrollments ValueRef `mapstructure:"enrollments" yaml:"enrollments"`
	// AutopilotStart subkey names are the start-time markers.
	AutopilotStart string `mapstructure:"autopilot_start" yaml:"autopilot_start"`
}

const espTracking = `HKLM\SOFTWARE\Microsoft\Windows\Autopilot\EnrollmentStatusTracking`

// DefaultPaths returns the locations written by Windows 10 1903 and later.
func DefaultPaths() Paths {
	return Paths{
		CloudAssignedTenant: ValueRef{Key: `HKLM\SOFTWARE\Microsoft\Provisioning\Diagnostics\Autopilot`, Value: "CloudAssignedTenantId"},
		JoinInfo:            ValueRef{Key: `HKLM\SYSTEM\CurrentControlSet\Control\CloudDomainJoin\JoinInfo`, Value: "TenantId"},
		DevicePrep:          ValueRef{Key: espTracking + `\Device\Setup`, Value: "DevicePreparationCategory.Status"},
		DeviceSetup:         ValueRef{Key: espTracking + `\Device\Setup`, Value: "DeviceSetupCategory.Status"},
		AccountSetup:        ValueRef{Key: `HKCU\SOFTWARE\Microsoft\Windows\Autopilot\EnrollmentStatusTracking\Setup`, Value: "AccountSetupCategory.Status"},
		Enrollments:         ValueRef{Key: `HKLM\SOFTWARE\Microsoft\Enrollments`, Value: "UPN"},
		AutopilotStart:      `HKLM\SOFTWARE\ESPGate\AutopilotStart`,
	}
}

// DefaultUserlessPrefix is the placeholder UPN Autopilot uses for
// self-deploying and pre-provisioned enrollments.
const DefaultUserlessPrefix = "fooUser@"

// IsUserlessUPN reports whether upn carries the placeholder prefix.
func IsUserlessUPN(upn, prefix string) bool {
	if prefix == "" {
		prefix = DefaultUserlessPrefix
	}
	upn = strings.TrimSpace(upn)
	return len(upn) >= len(prefix) && strings.EqualFold(upn[:len(prefix)], prefix)
}

// Hive is a registry root.
type Hive string

const (
	HiveLocalMachine  Hive = "HKLM"
	HiveCurrentUser   Hive = "HKCU"
	HiveUsers         Hive = "HKU"
	HiveClassesRoot   Hive = "HKCR"
	HiveCurrentConfig Hive = "HKCC"
)

// SplitPath splits `HKLM\SOFTWARE\...` into its hive and subkey. Forward
// slashes are accepted.
func SplitPath(path string) (Hive, string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(path), "/", `\`)
	if normalized == "" {
		return "", "", fmt.Errorf("empty registry path")
	}

	parts := strings.SplitN(normalized, `\`, 2)
	hive := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(parts[0])), ":")
	subPath := ""
	if len(parts) == 2 {
		subPath = strings.Trim(strings.TrimSpace(parts[1]), `\`)
	}

	switch hive {
	case "HKEY_LOCAL_MACHINE", "HKLM":
		return HiveLocalMachine, subPath, nil
	case "HKEY_CURRENT_USER", "HKCU":
		return HiveCurrentUser, subPath, nil
	case "HKEY_USERS", "HKU":
		return HiveUsers, subPath, nil
	case "HKEY_CLASSES_ROOT", "HKCR":
		return HiveClassesRoot, subPath, nil
	case "HKEY_CURRENT_CONFIG", "HKCC":
		return HiveCurrentConfig, subPath, nil
	default:
		return "", "", fmt.Errorf("unsupported registry hive: %s", hive)
	}
}

// Validate checks that every configured path has a known hive.
func (p Paths) Validate() []error {
	var errs []error
	check := func(name, key string) {
		if _, _, err := SplitPath(key); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	check("cloud_assigned_tenant", p.CloudAssignedTenant.Key)
	check("join_info", p.JoinInfo.Key)
	check("device_prep", p.DevicePrep.Key)
	check("device_setup", p.DeviceSetup.Key)
	check("account_setup", p.AccountSetup.Key)
	check("enrollments", p.Enrollments.Key)
	check("autopilot_start", p.AutopilotStart)
	return errs
}
