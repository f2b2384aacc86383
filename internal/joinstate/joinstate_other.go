//go:build !windows

package joinstate

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("dsregcmd is only available on Windows")

func Collect(_ context.Context) (State, error) {
	return State{JoinType: JoinTypeNone, Source: "unsupported"}, errUnsupported
}
