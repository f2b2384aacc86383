//go:build windows

package espsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/windows/registry"

	"github.com/breeze-rmm/espgate/internal/esp"
	"github.com/breeze-rmm/espgate/internal/logging"
)

// RegistryReader reads the ESP inputs from the local registry.
type RegistryReader struct {
	paths          Paths
	userlessPrefix string
}

// NewRegistryReader returns a Reader over the given paths.
func NewRegistryReader(paths Paths, userlessPrefix string) (*RegistryReader, error) {
	if errs := paths.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &RegistryReader{paths: paths, userlessPrefix: userlessPrefix}, nil
}

// Read collects one raw snapshot. Missing keys, missing values and values
// of the wrong type read as absent; any other registry failure aborts the
// read.
func (r *RegistryReader) Read(ctx context.Context) (esp.Raw, error) {
	var raw esp.Raw
	var err error

	steps := []struct {
		op  string
		run func() error
	}{
		{"cloud assigned tenant", func() error {
			raw.Tenant.CloudAssignedTenantID, err = readString(r.paths.CloudAssignedTenant)
			return err
		}},
		{"join info", func() error {
			raw.Tenant.JoinedTenantIDs, err = readEachSubkey(r.paths.JoinInfo)
			return err
		}},
		{"device preparation", func() error {
			raw.DevicePrep, err = readString(r.paths.DevicePrep)
			return err
		}},
		{"device setup", func() error {
			raw.DeviceSetup, err = readString(r.paths.DeviceSetup)
			return err
		}},
		{"account setup", func() error {
			raw.AccountSetup, err = readString(r.paths.AccountSetup)
			return err
		}},
		{"enrollments", func() error {
			upns, err := readEachSubkey(r.paths.Enrollments)
			for _, upn := range upns {
				if IsUserlessUPN(upn, r.userlessPrefix) {
					raw.Userless = true
					break
				}
			}
			return err
		}},
		{"autopilot start", func() error {
			raw.StartTimeKeys, err = subkeyNames(r.paths.AutopilotStart)
			return err
		}},
	}

	for _, step := range steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return esp.Raw{}, esp.SourceError(step.op, ctxErr)
		}
		if stepErr := step.run(); stepErr != nil {
			return esp.Raw{}, esp.SourceError(step.op, stepErr)
		}
	}

	logging.FromContext(ctx).Debug("registry read complete",
		"joinRecords", len(raw.Tenant.JoinedTenantIDs),
		"userless", raw.Userless,
		"startMarkers", len(raw.StartTimeKeys))
	return raw, nil
}

func rootKey(h Hive) (registry.Key, error) {
	switch h {
	case HiveLocalMachine:
		return registry.LOCAL_MACHINE, nil
	case HiveCurrentUser:
		return registry.CURRENT_USER, nil
	case HiveUsers:
		return registry.USERS, nil
	case HiveClassesRoot:
		return registry.CLASSES_ROOT, nil
	case HiveCurrentConfig:
		return registry.CURRENT_CONFIG, nil
	default:
		return 0, fmt.Errorf("unsupported registry hive: %s", h)
	}
}

func openKey(path string, access uint32) (registry.Key, bool, error) {
	hive, subPath, err := SplitPath(path)
	if err != nil {
		return 0, false, err
	}
	root, err := rootKey(hive)
	if err != nil {
		return 0, false, err
	}
	key, err := registry.OpenKey(root, subPath, access)
	if errors.Is(err, registry.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open %s: %w", path, err)
	}
	return key, true, nil
}

func readString(ref ValueRef) (string, error) {
	key, ok, err := openKey(ref.Key, registry.QUERY_VALUE)
	if err != nil || !ok {
		return "", err
	}
	defer key.Close()

	value, _, err := key.GetStringValue(ref.Value)
	if errors.Is(err, registry.ErrNotExist) {
		return "", nil
	}
	if errors.Is(err, registry.ErrUnexpectedType) {
		log.Debug("ignoring non-string value", "value", ref.String(), "error", err)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", ref, err)
	}
	return strings.TrimSpace(value), nil
}

func subkeyNames(path string) ([]string, error) {
	key, ok, err := openKey(path, registry.ENUMERATE_SUB_KEYS)
	if err != nil || !ok {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadSubKeyNames(-1)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", path, err)
	}
	return names, nil
}

// readEachSubkey reads ref.Value from every subkey of ref.Key, in
// enumeration order. Subkeys without the value are skipped.
func readEachSubkey(ref ValueRef) ([]string, error) {
	names, err := subkeyNames(ref.Key)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, name := range names {
		value, err := readString(ValueRef{Key: ref.Key + `\` + name, Value: ref.Value})
		if err != nil {
			log.Debug("skipping unreadable subkey", "key", ref.Key, "subkey", name, "error", err)
			continue
		}
		if value != "" {
			values = append(values, value)
		}
	}
	return values, nil
}

// WriteStartMarker records t as the Autopilot start marker under path and
// returns the subkey name written. Existing markers are kept unless force
// is set, in which case they are replaced.
func WriteStartMarker(path string, t time.Time, force bool) (string, error) {
	existing, err := subkeyNames(path)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 && !force {
		return "", fmt.Errorf("%w: %s", ErrMarkerExists, strings.Join(existing, ", "))
	}

	hive, subPath, err := SplitPath(path)
	if err != nil {
		return "", err
	}
	root, err := rootKey(hive)
	if err != nil {
		return "", err
	}

	for _, name := range existing {
		if err := registry.DeleteKey(root, subPath+`\`+name); err != nil && !errors.Is(err, registry.ErrNotExist) {
			return "", fmt.Errorf("remove marker %s: %w", name, err)
		}
	}

	name := t.Format(esp.StartTimeLayout)
	key, _, err := registry.CreateKey(root, subPath+`\`+name, registry.WRITE)
	if err != nil {
		return "", fmt.Errorf("create marker %s: %w", name, err)
	}
	key.Close()
	log.Info("autopilot start marker written", "key", path, "marker", name, "replaced", len(existing))
	return name, nil
}
