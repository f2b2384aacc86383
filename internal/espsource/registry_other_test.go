//go:build !windows

package espsource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/breeze-rmm/espgate/internal/esp"
)

func TestRegistryReaderUnsupported(t *testing.T) {
	r, err := NewRegistryReader(DefaultPaths(), "")
	if err != nil {
		t.Fatalf("NewRegistryReader: %v", err)
	}
	_, err = r.Read(context.Background())
	if !errors.Is(err, esp.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if esp.KindOf(err) != esp.KindSourceFailure {
		t.Fatalf("kind = %q, want source failure", esp.KindOf(err))
	}
}

func TestWriteStartMarkerUnsupported(t *testing.T) {
	if _, err := WriteStartMarker(DefaultPaths().AutopilotStart, time.Now(), false); !errors.Is(err, esp.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
