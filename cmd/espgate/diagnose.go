package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/espgate/internal/config"
	"github.com/breeze-rmm/espgate/internal/esp"
	"github.com/breeze-rmm/espgate/internal/espsource"
	"github.com/breeze-rmm/espgate/internal/gate"
	"github.com/breeze-rmm/espgate/internal/hostinfo"
	"github.com/breeze-rmm/espgate/internal/joinstate"
	"github.com/breeze-rmm/espgate/internal/svcquery"
)

var (
	diagFormat string
	diagSave   string
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Dump every input and intermediate decision of one evaluation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiagnose(cmd, os.Stdout)
	},
}

func init() {
	diagnoseCmd.Flags().StringVar(&diagFormat, "format", "yaml", "output format: yaml or json")
	diagnoseCmd.Flags().StringVar(&diagSave, "save", "", "also write the raw snapshot to this file for --from-file")
	rootCmd.AddCommand(diagnoseCmd)
}

type categoryReport struct {
	State   esp.CategoryState `json:"state" yaml:"state"`
	Message string            `json:"message,omitempty" yaml:"message,omitempty"`
	Error   string            `json:"error,omitempty" yaml:"error,omitempty"`
}

type tenantReport struct {
	Match   esp.TenantMatch `json:"match" yaml:"match"`
	Proceed bool            `json:"proceed" yaml:"proceed"`
	Kind    esp.ErrorKind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

type graceReport struct {
	Period    string     `json:"period" yaml:"period"`
	StartTime *time.Time `json:"startTime,omitempty" yaml:"startTime,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Elapsed   bool       `json:"elapsed" yaml:"elapsed"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

type verdictReport struct {
	Verdict  esp.Verdict           `json:"verdict" yaml:"verdict"`
	Line     string                `json:"line" yaml:"line"`
	ExitCode int                   `json:"exitCode" yaml:"exitCode"`
	Reason   string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	Findings []esp.CategoryFinding `json:"findings,omitempty" yaml:"findings,omitempty"`
}

type diagnosis struct {
	GeneratedAt time.Time                 `json:"generatedAt" yaml:"generatedAt"`
	Version     string                    `json:"version" yaml:"version"`
	Profile     string                    `json:"profile" yaml:"profile"`
	Source      string                    `json:"source" yaml:"source"`
	ReadError   string                    `json:"readError,omitempty" yaml:"readError,omitempty"`
	Raw         *esp.Raw                  `json:"raw,omitempty" yaml:"raw,omitempty"`
	Tenant      *tenantReport             `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Categories  map[string]categoryReport `json:"categories,omitempty" yaml:"categories,omitempty"`
	Userless    bool                      `json:"userless" yaml:"userless"`
	Grace       *graceReport              `json:"grace,omitempty" yaml:"grace,omitempty"`
	Result      verdictReport             `json:"result" yaml:"result"`
	Host        *hostinfo.Info            `json:"host,omitempty" yaml:"host,omitempty"`
	HostError   string                    `json:"hostError,omitempty" yaml:"hostError,omitempty"`
	IMEService  *svcquery.ServiceInfo     `json:"imeService,omitempty" yaml:"imeService,omitempty"`
	IMEError    string                    `json:"imeError,omitempty" yaml:"imeError,omitempty"`
	Join        *joinstate.State          `json:"join,omitempty" yaml:"join,omitempty"`
	JoinError   string                    `json:"joinError,omitempty" yaml:"joinError,omitempty"`
	JoinAgrees  *bool                     `json:"joinAgreesWithAutopilot,omitempty" yaml:"joinAgreesWithAutopilot,omitempty"`
}

func runDiagnose(cmd *cobra.Command, w io.Writer) error {
	format := strings.ToLower(diagFormat)
	if format != "yaml" && format != "json" {
		return fmt.Errorf("unsupported format %q (use yaml or json)", diagFormat)
	}

	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	profile, err := gate.ResolveProfile(cfg, profileName)
	if err != nil {
		return err
	}
	reader, source, err := newReader(cfg)
	if err != nil {
		return err
	}

	now := time.Now()
	d := diagnose(cmd.Context(), reader, profile, now)
	d.Source = source
	d.Profile = profile.Name
	addHost(cmd.Context(), &d, cfg)

	if diagSave != "" {
		if err := saveSnapshot(diagSave, d.Raw); err != nil {
			return err
		}
	}

	return writeDiagnosis(w, format, d)
}

// saveSnapshot writes raw for later --from-file replay. A nil raw means the
// read failed; nothing is written and the operator is warned.
func saveSnapshot(path string, raw *esp.Raw) error {
	if raw == nil {
		log.Warn("snapshot not saved: the status read failed", "file", path)
		return nil
	}
	data, err := espsource.EncodeSnapshot(*raw)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	log.Info("snapshot saved", "file", path)
	return nil
}

// diagnose performs one evaluation step by step, recording each stage.
func diagnose(ctx context.Context, reader espsource.Reader, profile gate.Profile, now time.Time) diagnosis {
	d := diagnosis{GeneratedAt: now.UTC(), Version: version}

	raw, err := reader.Read(ctx)
	if err != nil {
		d.ReadError = err.Error()
		d.Result = toVerdictReport(esp.Fallback(err, profile.Policy), profile)
		return d
	}
	d.Raw = &raw
	d.Userless = raw.Userless

	d.Tenant = &tenantReport{Match: profile.Policy.TenantMatch, Proceed: true}
	if gerr := esp.GuardTenant(raw.Tenant, profile.Policy.TenantMatch); gerr != nil {
		d.Tenant.Proceed = false
		d.Tenant.Kind = esp.KindOf(gerr)
		d.Tenant.Error = gerr.Error()
	}

	snap := esp.NewSnapshot(raw, now)
	d.Categories = map[string]categoryReport{
		string(esp.CategoryDevicePrep):   toCategoryReport(snap.DevicePrep),
		string(esp.CategoryDeviceSetup):  toCategoryReport(snap.DeviceSetup),
		string(esp.CategoryAccountSetup): toCategoryReport(snap.AccountSetup),
	}

	clock := esp.GraceClock{Period: profile.Policy.GracePeriod}
	period := clock.Period
	if period <= 0 {
		period = esp.DefaultGracePeriod
	}
	d.Grace = &graceReport{Period: period.String()}
	if snap.StartTimeErr != nil {
		d.Grace.Error = snap.StartTimeErr.Error()
	} else {
		start := snap.StartTime
		deadline := start.Add(period)
		d.Grace.StartTime = &start
		d.Grace.Deadline = &deadline
		d.Grace.Elapsed = clock.Elapsed(start, now)
	}

	d.Result = toVerdictReport(esp.Decide(raw, profile.Policy, now), profile)
	return d
}

func addHost(ctx context.Context, d *diagnosis, cfg *config.Config) {
	info, err := hostinfo.Collect(cfg.MinOSBuild)
	d.Host = &info
	if err != nil {
		d.HostError = err.Error()
	}

	join, err := joinstate.Collect(ctx)
	if err != nil {
		d.JoinError = err.Error()
	} else {
		d.Join = &join
		if d.Raw != nil && d.Raw.Tenant.CloudAssignedTenantID != "" {
			agrees := join.TenantMatches(d.Raw.Tenant.CloudAssignedTenantID)
			d.JoinAgrees = &agrees
		}
	}

	svc, err := svcquery.GetStatus(svcquery.IMEServiceName)
	if err != nil {
		d.IMEError = err.Error()
		return
	}
	if !svc.IsActive() {
		log.Warn("Intune Management Extension is not running", "status", svc.Status)
	}
	d.IMEService = &svc
}

func toCategoryReport(st esp.CategoryStatus) categoryReport {
	r := categoryReport{State: st.State, Message: st.Message}
	if st.Err != nil {
		r.Error = st.Err.Error()
	}
	return r
}

func toVerdictReport(res esp.Result, profile gate.Profile) verdictReport {
	r := verdictReport{
		Verdict:  res.Verdict,
		Line:     res.Line(),
		ExitCode: profile.ExitCode(res.Verdict),
		Findings: res.Findings,
	}
	if res.Reason != nil {
		r.Reason = res.Reason.Error()
	}
	return r
}

func writeDiagnosis(w io.Writer, format string, d diagnosis) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}
