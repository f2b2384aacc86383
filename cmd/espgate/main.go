package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/espgate/internal/config"
	"github.com/breeze-rmm/espgate/internal/espsource"
	"github.com/breeze-rmm/espgate/internal/gate"
	"github.com/breeze-rmm/espgate/internal/history"
	"github.com/breeze-rmm/espgate/internal/logging"
)

// exitUsage is returned when espgate cannot run at all (bad flags or config).
const exitUsage = 3

var (
	version     = "0.1.0"
	cfgFile     string
	profileName string
	logLevel    string
	fromFile    string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "espgate",
	Short: "Autopilot Enrollment Status Page gate",
	Long: `espgate decides whether the Windows Autopilot Enrollment Status Page is still
running so Intune requirement and detection rules can hold or release installs.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("espgate v%s\n", version)
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the configured evaluation profiles",
	Run: func(cmd *cobra.Command, args []string) {
		listProfiles()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is %ProgramData%\\ESPGate\\espgate.yaml)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "evaluation profile (requirement, detection, strict or a custom one)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the config")
	rootCmd.PersistentFlags().StringVar(&fromFile, "from-file", "", "evaluate a captured snapshot file instead of the registry")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(profilesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
}

// loadConfig loads and validates the config and starts logging. Fatal
// validation problems are returned as one error.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		return nil, nil, fmt.Errorf("invalid config: %v", result.Fatals)
	}

	closer, err := logging.Setup(cfg.LogFormat, cfg.LogLevel, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		log.Warn("file logging disabled", logging.KeyError, err)
	}
	return cfg, closer, nil
}

// gateConfig is loadConfig for the gating commands: a broken config must
// still produce a verdict, so it degrades to the built-in defaults.
func gateConfig() (*config.Config, io.Closer) {
	cfg, closer, err := loadConfig()
	if err == nil {
		return cfg, closer
	}
	cfg = config.Default()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	log.Error("using built-in defaults", logging.KeyError, err)
	return cfg, io.NopCloser(nil)
}

// newReader picks the snapshot file when --from-file is set and the live
// registry otherwise.
func newReader(cfg *config.Config) (espsource.Reader, string, error) {
	if fromFile != "" {
		return espsource.NewFileReader(fromFile), "file:" + fromFile, nil
	}
	r, err := espsource.NewRegistryReader(cfg.Registry, cfg.UserlessUPNPrefix)
	if err != nil {
		return nil, "", err
	}
	return r, "registry", nil
}

// openJournal returns nil when history is disabled or unavailable; a
// missing journal never blocks a verdict.
func openJournal(cfg *config.Config) *history.Journal {
	if !cfg.HistoryEnabled {
		return nil
	}
	j, err := history.Open(cfg.HistoryFile, cfg.HistoryMaxSizeMB, cfg.HistoryMaxBackups)
	if err != nil {
		log.Warn("history disabled", "file", cfg.HistoryFile, logging.KeyError, err)
		return nil
	}
	return j
}

func newRunner(cfg *config.Config, reader espsource.Reader, journal *history.Journal) (*gate.Runner, error) {
	profile, err := gate.ResolveProfile(cfg, profileName)
	if err != nil {
		return nil, err
	}
	return gate.NewRunner(reader, profile, gate.WithJournal(journal)), nil
}

func listProfiles() {
	cfg, closer, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	defer closer.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPHRASING\tGATE IDENTITY\tFAIL OPEN\tTENANT MATCH\tEXIT (RUN/FIN/ERR)")
	for _, name := range cfg.ProfileNames() {
		p, err := gate.ResolveProfile(cfg, name)
		if err != nil {
			fmt.Fprintf(w, "%s\t%v\n", name, err)
			continue
		}
		marker := ""
		if name == cfg.DefaultProfile {
			marker = " (default)"
		}
		fmt.Fprintf(w, "%s%s\t%s\t%t\t%t\t%s\t%d/%d/%d\n", name, marker,
			p.Policy.Phrasing, p.Policy.GateOnIdentityMismatch, p.Policy.FailOpenOnError, p.Policy.TenantMatch,
			p.ExitCodes.Running, p.ExitCodes.Finished, p.ExitCodes.Error)
	}
	w.Flush()
}
