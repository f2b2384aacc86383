// Package svcquery reports the state of the Windows services the ESP
// pipeline depends on.
package svcquery

// IMEServiceName is the Intune Management Extension service, which runs
// Win32 app installs during ESP.
const IMEServiceName = "IntuneManagementExtension"

// ServiceStatus is a coarse service state.
type ServiceStatus string

const (
	StatusRunning  ServiceStatus = "running"
	StatusStopped  ServiceStatus = "stopped"
	StatusDisabled ServiceStatus = "disabled"
	StatusUnknown  ServiceStatus = "unknown"
)

// ServiceInfo describes a system service.
type ServiceInfo struct {
	Name        string        `json:"name" yaml:"name"`
	DisplayName string        `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Status      ServiceStatus `json:"status" yaml:"status"`
	StartType   string        `json:"startType,omitempty" yaml:"startType,omitempty"`
}

// IsActive returns true if the service is currently running.
func (s ServiceInfo) IsActive() bool {
	return s.Status == StatusRunning
}
