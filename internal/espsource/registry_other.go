//go:build !windows

package espsource

import (
	"context"
	"errors"
	"time"

	"github.com/breeze-rmm/espgate/internal/esp"
)

// RegistryReader is unavailable off Windows; Read always fails with
// esp.ErrUnsupported so the policy's fallback applies.
type RegistryReader struct {
	paths Paths
}

func NewRegistryReader(paths Paths, _ string) (*RegistryReader, error) {
	if errs := paths.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &RegistryReader{paths: paths}, nil
}

func (r *RegistryReader) Read(_ context.Context) (esp.Raw, error) {
	return esp.Raw{}, esp.SourceError("registry", esp.ErrUnsupported)
}

func WriteStartMarker(_ string, _ time.Time, _ bool) (string, error) {
	return "", esp.ErrUnsupported
}
