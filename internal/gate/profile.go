package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/breeze-rmm/espgate/internal/config"
	"github.com/breeze-rmm/espgate/internal/esp"
)

// Profile is a resolved call-site configuration.
type Profile struct {
	Name      string
	Policy    esp.Policy
	ExitCodes config.ExitCodes
}

// ResolveProfile turns a configured profile into an evaluator policy. An
// empty name selects the config's default profile.
func ResolveProfile(cfg *config.Config, name string) (Profile, error) {
	if strings.TrimSpace(name) == "" {
		name = cfg.DefaultProfile
	}
	pc, ok := cfg.LookupProfile(name)
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (known: %s)", name, strings.Join(cfg.ProfileNames(), ", "))
	}

	phrasing, err := esp.ParsePhrasing(pc.Phrasing)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}
	match, err := esp.ParseTenantMatch(pc.TenantMatch)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w", name, err)
	}

	return Profile{
		Name: strings.ToLower(strings.TrimSpace(name)),
		Policy: esp.Policy{
			GateOnIdentityMismatch: pc.GateOnIdentityMismatch,
			FailOpenOnError:        pc.FailOpenOnError,
			TenantMatch:            match,
			Phrasing:               phrasing,
			GracePeriod:            time.Duration(cfg.GracePeriodMinutes) * time.Minute,
		},
		ExitCodes: pc.ExitCodes,
	}, nil
}

// ExitCode maps a verdict to the profile's process exit code.
func (p Profile) ExitCode(v esp.Verdict) int {
	switch {
	case v == esp.Running:
		return p.ExitCodes.Running
	case v.Finished():
		return p.ExitCodes.Finished
	default:
		return p.ExitCodes.Error
	}
}
