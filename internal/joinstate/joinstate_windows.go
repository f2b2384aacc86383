//go:build windows

package joinstate

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Collect runs dsregcmd /status. It is bounded to five seconds.
func Collect(ctx context.Context) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "dsregcmd", "/status").CombinedOutput()
	if err != nil {
		log.Warn("dsregcmd failed", "error", err)
		return State{JoinType: JoinTypeNone, Source: "dsregcmd_error"}, fmt.Errorf("dsregcmd: %w", err)
	}
	return Parse(string(output)), nil
}
