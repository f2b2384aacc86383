package espsource

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/espgate/internal/esp"
	"github.com/breeze-rmm/espgate/internal/logging"
)

// FileReader replays a captured snapshot from a YAML or JSON file. It is
// used for offline triage of a device and in tests.
type FileReader struct {
	path string
}

func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// Read re-reads the file on every call so a polling caller sees edits.
func (r *FileReader) Read(ctx context.Context) (esp.Raw, error) {
	if err := ctx.Err(); err != nil {
		return esp.Raw{}, esp.SourceError("snapshot file", err)
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return esp.Raw{}, esp.SourceError("snapshot file", err)
	}
	raw, err := DecodeSnapshot(data)
	if err != nil {
		return esp.Raw{}, esp.SourceError("snapshot file", fmt.Errorf("%s: %w", r.path, err))
	}
	logging.FromContext(ctx).Debug("snapshot replayed", "file", r.path)
	return raw, nil
}

// DecodeSnapshot parses a captured snapshot. JSON is accepted as YAML.
func DecodeSnapshot(data []byte) (esp.Raw, error) {
	var raw esp.Raw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return esp.Raw{}, err
	}
	return raw, nil
}

// EncodeSnapshot renders raw in the format FileReader reads.
func EncodeSnapshot(raw esp.Raw) ([]byte, error) {
	return yaml.Marshal(raw)
}
