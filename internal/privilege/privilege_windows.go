//go:build windows

package privilege

import "golang.org/x/sys/windows"

// IsElevated reports whether the process token is elevated. SYSTEM, which
// Intune runs Win32 app rules as, is always elevated.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
