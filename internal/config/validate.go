package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-version"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// ValidationResult splits problems into fatals, which must stop the run,
// and warnings, which were clamped or defaulted.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// ValidateTiered checks the config. Out-of-range numbers are clamped to safe
// values and reported as warnings; anything that would make the verdict
// meaningless is fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if err := validatorInstance().Struct(c); err != nil {
		r.Fatals = append(r.Fatals, convertValidationError(err)...)
	}

	if _, ok := c.Profiles[strings.ToLower(c.DefaultProfile)]; c.DefaultProfile != "" && !ok {
		r.Fatals = append(r.Fatals, fmt.Errorf("profile %q is not defined (known: %s)", c.DefaultProfile, strings.Join(c.ProfileNames(), ", ")))
	}

	for _, err := range c.Registry.Validate() {
		r.Fatals = append(r.Fatals, fmt.Errorf("registry.%w", err))
	}

	if c.MinOSBuild != "" {
		if _, err := version.NewVersion(c.MinOSBuild); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("min_os_build %q is not a version: %w", c.MinOSBuild, err))
		}
	}

	clamp := func(name string, v *int, lo, hi int) {
		switch {
		case *v < lo:
			r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", name, *v, lo))
			*v = lo
		case *v > hi:
			r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", name, *v, hi))
			*v = hi
		}
	}
	clamp("grace_period_minutes", &c.GracePeriodMinutes, 1, 24*60)
	clamp("wait_interval_seconds", &c.WaitIntervalSeconds, 5, 600)
	clamp("wait_timeout_minutes", &c.WaitTimeoutMinutes, 1, 24*60)
	clamp("log_max_size_mb", &c.LogMaxSizeMB, 1, 100)
	clamp("log_max_backups", &c.LogMaxBackups, 1, 20)
	clamp("history_max_size_mb", &c.HistoryMaxSizeMB, 1, 100)
	clamp("history_max_backups", &c.HistoryMaxBackups, 1, 20)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}
	if c.HistoryEnabled && c.HistoryFile == "" {
		r.Warnings = append(r.Warnings, fmt.Errorf("history_enabled is set but history_file is empty, disabling history"))
		c.HistoryEnabled = false
	}

	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
	return r
}

// ProfileNames returns the configured profile names, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProfile finds a profile by case-insensitive name.
func (c *Config) LookupProfile(name string) (Profile, bool) {
	p, ok := c.Profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func convertValidationError(err error) []error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []error{err}
	}
	errs := make([]error, 0, len(ves))
	for _, fe := range ves {
		errs = append(errs, fmt.Errorf("%s failed validation for tag '%s'", fieldName(fe), fe.Tag()))
	}
	return errs
}

func fieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
