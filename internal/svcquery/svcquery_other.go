//go:build !windows

package svcquery

import "fmt"

// GetStatus always fails off Windows.
func GetStatus(name string) (ServiceInfo, error) {
	return ServiceInfo{Name: name, Status: StatusUnknown}, fmt.Errorf("svcquery: not implemented on this platform")
}
