package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/espgate/internal/espsource"
)

// Built-in profile names. Each replaces one of the historical call sites.
const (
	ProfileRequirement = "requirement"
	ProfileDetection   = "detection"
	ProfileStrict      = "strict"
)

// ExitCodes maps each verdict class to a process exit code.
type ExitCodes struct {
	Running  int `mapstructure:"running" yaml:"running" validate:"min=0,max=255"`
	Finished int `mapstructure:"finished" yaml:"finished" validate:"min=0,max=255"`
	Error    int `mapstructure:"error" yaml:"error" validate:"min=0,max=255"`
}

// Profile is the evaluator configuration one call site selects.
type Profile struct {
	Phrasing               string    `mapstructure:"phrasing" yaml:"phrasing" validate:"omitempty,oneof=complete not_running"`
	GateOnIdentityMismatch bool      `mapstructure:"gate_on_identity_mismatch" yaml:"gate_on_identity_mismatch"`
	FailOpenOnError        bool      `mapstructure:"fail_open_on_error" yaml:"fail_open_on_error"`
	TenantMatch            string    `mapstructure:"tenant_match" yaml:"tenant_match" validate:"omitempty,oneof=any last"`
	ExitCodes              ExitCodes `mapstructure:"exit_codes" yaml:"exit_codes"`
}

type Config struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	DefaultProfile     string             `mapstructure:"profile" validate:"required"`
	Profiles           map[string]Profile `mapstructure:"profiles" validate:"dive"`
	GracePeriodMinutes int                `mapstructure:"grace_period_minutes"`
	UserlessUPNPrefix  string             `mapstructure:"userless_upn_prefix" validate:"required,contains=@"`
	Registry           espsource.Paths    `mapstructure:"registry"`

	WaitIntervalSeconds int `mapstructure:"wait_interval_seconds"`
	WaitTimeoutMinutes  int `mapstructure:"wait_timeout_minutes"`

	HistoryEnabled    bool   `mapstructure:"history_enabled"`
	HistoryFile       string `mapstructure:"history_file"`
	HistoryMaxSizeMB  int    `mapstructure:"history_max_size_mb"`
	HistoryMaxBackups int    `mapstructure:"history_max_backups"`

	// MinOSBuild is the first Windows build that writes ESP tracking keys.
	MinOSBuild string `mapstructure:"min_os_build"`
}

// BuiltinProfiles returns the profiles shipped with espgate.
func BuiltinProfiles() map[string]Profile {
	return map[string]Profile{
		// Intune requirement rules match on stdout, so every verdict exits 0.
		ProfileRequirement: {
			Phrasing:               "not_running",
			GateOnIdentityMismatch: true,
			FailOpenOnError:        true,
			TenantMatch:            "any",
			ExitCodes:              ExitCodes{Running: 0, Finished: 0, Error: 0},
		},
		ProfileDetection: {
			Phrasing:        "complete",
			FailOpenOnError: true,
			TenantMatch:     "any",
			ExitCodes:       ExitCodes{Running: 1, Finished: 0, Error: 1},
		},
		ProfileStrict: {
			Phrasing:    "complete",
			TenantMatch: "any",
			ExitCodes:   ExitCodes{Running: 1, Finished: 0, Error: 2},
		},
	}
}

func Default() *Config {
	cfg := &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		LogFile:             defaultLogFile(),
		LogMaxSizeMB:        5,
		LogMaxBackups:       2,
		DefaultProfile:      ProfileDetection,
		Profiles:            BuiltinProfiles(),
		GracePeriodMinutes:  60,
		UserlessUPNPrefix:   espsource.DefaultUserlessPrefix,
		Registry:            espsource.DefaultPaths(),
		WaitIntervalSeconds: 30,
		WaitTimeoutMinutes:  90,
		HistoryEnabled:      runtime.GOOS == "windows",
		HistoryFile:         filepath.Join(ConfigDir(), "history.jsonl"),
		HistoryMaxSizeMB:    5,
		HistoryMaxBackups:   2,
		MinOSBuild:          "10.0.18362",
	}
	return cfg
}

// Load reads espgate.yaml from cfgFile or the default locations, then
// ESPGATE_* environment variables. A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("espgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	setDefaults(v, cfg)
	v.SetEnvPrefix("ESPGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can override it
// without a config file (ESPGATE_REGISTRY_AUTOPILOT_START,
// ESPGATE_PROFILES_DETECTION_FAIL_OPEN_ON_ERROR, ...).
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
	v.SetDefault("profile", cfg.DefaultProfile)
	v.SetDefault("grace_period_minutes", cfg.GracePeriodMinutes)
	v.SetDefault("userless_upn_prefix", cfg.UserlessUPNPrefix)
	v.SetDefault("wait_interval_seconds", cfg.WaitIntervalSeconds)
	v.SetDefault("wait_timeout_minutes", cfg.WaitTimeoutMinutes)
	v.SetDefault("history_enabled", cfg.HistoryEnabled)
	v.SetDefault("history_file", cfg.HistoryFile)
	v.SetDefault("history_max_size_mb", cfg.HistoryMaxSizeMB)
	v.SetDefault("history_max_backups", cfg.HistoryMaxBackups)
	v.SetDefault("min_os_build", cfg.MinOSBuild)

	// Built-in profiles are registered field by field so a file that
	// overrides one field keeps the rest, including the fail-open flags.
	for name, p := range cfg.Profiles {
		prefix := "profiles." + name + "."
		v.SetDefault(prefix+"phrasing", p.Phrasing)
		v.SetDefault(prefix+"gate_on_identity_mismatch", p.GateOnIdentityMismatch)
		v.SetDefault(prefix+"fail_open_on_error", p.FailOpenOnError)
		v.SetDefault(prefix+"tenant_match", p.TenantMatch)
		v.SetDefault(prefix+"exit_codes.running", p.ExitCodes.Running)
		v.SetDefault(prefix+"exit_codes.finished", p.ExitCodes.Finished)
		v.SetDefault(prefix+"exit_codes.error", p.ExitCodes.Error)
	}

	refs := map[string]espsource.ValueRef{
		"cloud_assigned_tenant": cfg.Registry.CloudAssignedTenant,
		"join_info":             cfg.Registry.JoinInfo,
		"device_prep":           cfg.Registry.DevicePrep,
		"device_setup":          cfg.Registry.DeviceSetup,
		"account_setup":         cfg.Registry.AccountSetup,
		"enrollments":           cfg.Registry.Enrollments,
	}
	for name, ref := range refs {
		v.SetDefault("registry."+name+".key", ref.Key)
		v.SetDefault("registry."+name+".value", ref.Value)
	}
	v.SetDefault("registry.autopilot_start", cfg.Registry.AutopilotStart)
}

// ConfigDir is where espgate.yaml and the history file live.
func ConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(programData(), "ESPGate")
	default:
		return "/etc/espgate"
	}
}

// defaultLogFile puts the log next to the Intune Management Extension logs
// so the Intune diagnostics collector picks it up.
func defaultLogFile() string {
	if runtime.GOOS != "windows" {
		return ""
	}
	return filepath.Join(programData(), "Microsoft", "IntuneManagementExtension", "Logs", "espgate.log")
}

func programData() string {
	if dir := os.Getenv("ProgramData"); dir != "" {
		return dir
	}
	return `C:\ProgramData`
}
