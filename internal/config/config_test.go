package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/espgate/internal/espsource"
)

func TestDefaultBuiltinProfiles(t *testing.T) {
	cfg := Default()
	for _, name := range []string{ProfileRequirement, ProfileDetection, ProfileStrict} {
		if _, ok := cfg.LookupProfile(name); !ok {
			t.Fatalf("missing built-in profile %q", name)
		}
	}

	req, _ := cfg.LookupProfile(ProfileRequirement)
	if !req.GateOnIdentityMismatch || !req.FailOpenOnError || req.Phrasing != "not_running" {
		t.Fatalf("requirement profile = %+v", req)
	}
	strict, _ := cfg.LookupProfile(ProfileStrict)
	if strict.FailOpenOnError || strict.ExitCodes.Error != 2 {
		t.Fatalf("strict profile = %+v", strict)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProfile != ProfileDetection {
		t.Fatalf("profile = %q, want %q", cfg.DefaultProfile, ProfileDetection)
	}
	if cfg.GracePeriodMinutes != 60 {
		t.Fatalf("grace = %d, want 60", cfg.GracePeriodMinutes)
	}
}

func TestLoadFileOverridesAndAddsProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "espgate.yaml")
	content := `profile: kiosk
grace_period_minutes: 90
userless_upn_prefix: kiosk@
registry:
  autopilot_start: HKLM\SOFTWARE\Contoso\AutopilotStart
profiles:
  kiosk:
    phrasing: not_running
    gate_on_identity_mismatch: true
    fail_open_on_error: false
    tenant_match: last
    exit_codes:
      running: 1
      finished: 0
      error: 3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProfile != "kiosk" || cfg.GracePeriodMinutes != 90 || cfg.UserlessUPNPrefix != "kiosk@" {
		t.Fatalf("scalar overrides not applied: %+v", cfg)
	}
	if cfg.Registry.AutopilotStart != `HKLM\SOFTWARE\Contoso\AutopilotStart` {
		t.Fatalf("autopilot_start = %q", cfg.Registry.AutopilotStart)
	}
	if cfg.Registry.DevicePrep.Value != "DevicePreparationCategory.Status" {
		t.Fatalf("unset registry paths should keep defaults, got %+v", cfg.Registry.DevicePrep)
	}

	kiosk, ok := cfg.LookupProfile("kiosk")
	if !ok {
		t.Fatal("custom profile missing")
	}
	if kiosk.TenantMatch != "last" || kiosk.ExitCodes.Error != 3 || kiosk.FailOpenOnError {
		t.Fatalf("kiosk profile = %+v", kiosk)
	}
	if _, ok := cfg.LookupProfile(ProfileDetection); !ok {
		t.Fatal("built-in profiles should remain alongside custom ones")
	}
	if result := cfg.ValidateTiered(); result.HasFatals() {
		t.Fatalf("loaded config has fatals: %v", result.Fatals)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ESPGATE_PROFILE", "strict")
	t.Setenv("ESPGATE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultProfile != "strict" {
		t.Fatalf("profile = %q, want strict", cfg.DefaultProfile)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.LogLevel)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "espgate.yaml")
	if err := os.WriteFile(path, []byte("profile: [unterminated"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestLoadPartialBuiltinProfileOverrideKeepsOtherFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "espgate.yaml")
	content := `profiles:
  detection:
    exit_codes:
      running: 5
      error: 5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	det, ok := cfg.LookupProfile(ProfileDetection)
	if !ok {
		t.Fatal("detection profile missing")
	}
	want := BuiltinProfiles()[ProfileDetection]
	want.ExitCodes.Running = 5
	want.ExitCodes.Error = 5
	if det != want {
		t.Fatalf("detection = %+v, want %+v", det, want)
	}
	if !det.FailOpenOnError {
		t.Fatal("fail_open_on_error must survive a partial override")
	}

	req, _ := cfg.LookupProfile(ProfileRequirement)
	if req != BuiltinProfiles()[ProfileRequirement] {
		t.Fatalf("requirement = %+v, want built-in", req)
	}
}

func TestLoadEnvOverridesRegistryPaths(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ESPGATE_REGISTRY_AUTOPILOT_START", `HKLM\SOFTWARE\Contoso\Start`)
	t.Setenv("ESPGATE_REGISTRY_DEVICE_SETUP_VALUE", "Custom.Status")
	t.Setenv("ESPGATE_PROFILES_STRICT_FAIL_OPEN_ON_ERROR", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Registry.AutopilotStart != `HKLM\SOFTWARE\Contoso\Start` {
		t.Fatalf("autopilot_start = %q", cfg.Registry.AutopilotStart)
	}
	if cfg.Registry.DeviceSetup.Value != "Custom.Status" {
		t.Fatalf("device_setup.value = %q", cfg.Registry.DeviceSetup.Value)
	}
	if cfg.Registry.DeviceSetup.Key != espsource.DefaultPaths().DeviceSetup.Key {
		t.Fatalf("device_setup.key = %q, want default", cfg.Registry.DeviceSetup.Key)
	}
	strict, _ := cfg.LookupProfile(ProfileStrict)
	if !strict.FailOpenOnError || strict.ExitCodes.Error != 2 {
		t.Fatalf("strict = %+v", strict)
	}
}
