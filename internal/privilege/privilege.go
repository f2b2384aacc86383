// Package privilege checks whether espgate holds the rights a command needs.
package privilege

import (
	"errors"
	"fmt"
)

// ErrNotElevated is returned by Require when the process is not elevated.
var ErrNotElevated = errors.New("administrator rights required")

// Require returns ErrNotElevated, naming op, unless the process is elevated.
func Require(op string) error {
	if IsElevated() {
		return nil
	}
	return fmt.Errorf("%s: %w", op, ErrNotElevated)
}
