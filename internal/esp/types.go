package esp

import (
	"fmt"
	"strings"
	"time"
)

// CategoryState is the parsed state of one ESP category.
type CategoryState string

const (
	StateNotStarted CategoryState = "notStarted"
	StateInProgress CategoryState = "inProgress"
	StateSucceeded  CategoryState = "succeeded"
	StateFailed     CategoryState = "failed"
	// StateUnknown is a terminal state the parser does not recognise.
	StateUnknown CategoryState = "unknown"
)

// Category names one of the three provisioning phases tracked by ESP.
type Category string

const (
	CategoryDevicePrep   Category = "devicePreparation"
	CategoryDeviceSetup  Category = "deviceSetup"
	CategoryAccountSetup Category = "accountSetup"
)

// CategoryStatus is the decoded status blob of one category.
type CategoryStatus struct {
	State   CategoryState `json:"state" yaml:"state"`
	Message string        `json:"message,omitempty" yaml:"message,omitempty"`
	Err     error         `json:"-" yaml:"-"`
}

// Finished reports whether the category reached a terminal state.
func (c CategoryStatus) Finished() bool {
	switch c.State {
	case StateSucceeded, StateFailed, StateUnknown:
		return true
	default:
		return false
	}
}

// TenantIdentity pairs the Autopilot tenant with the tenants found in the
// device's join records. Empty values mean absent.
type TenantIdentity struct {
	CloudAssignedTenantID string   `json:"cloudAssignedTenantId" yaml:"cloudAssignedTenantId"`
	JoinedTenantIDs       []string `json:"joinedTenantIds" yaml:"joinedTenantIds"`
}

// Raw is everything a Reader collects in one pass, before any parsing.
type Raw struct {
	Tenant        TenantIdentity `json:"tenant" yaml:"tenant"`
	DevicePrep    string         `json:"devicePrep,omitempty" yaml:"devicePrep,omitempty"`
	DeviceSetup   string         `json:"deviceSetup,omitempty" yaml:"deviceSetup,omitempty"`
	AccountSetup  string         `json:"accountSetup,omitempty" yaml:"accountSetup,omitempty"`
	Userless      bool           `json:"userless" yaml:"userless"`
	StartTimeKeys []string       `json:"startTimeKeys,omitempty" yaml:"startTimeKeys,omitempty"`
}

// Snapshot is the parsed input to one evaluation. It is never persisted.
type Snapshot struct {
	DevicePrep   CategoryStatus
	DeviceSetup  CategoryStatus
	AccountSetup CategoryStatus
	Userless     bool
	StartTime    time.Time
	StartTimeErr error
	Now          time.Time
}

// NewSnapshot parses the three category blobs and the start-time marker.
func NewSnapshot(raw Raw, now time.Time) Snapshot {
	s := Snapshot{
		DevicePrep:   ParseCategory(raw.DevicePrep),
		DeviceSetup:  ParseCategory(raw.DeviceSetup),
		AccountSetup: ParseCategory(raw.AccountSetup),
		Userless:     raw.Userless,
		Now:          now,
	}
	s.StartTime, s.StartTimeErr = ResolveStartTime(raw.StartTimeKeys)
	return s
}

// Verdict is the outcome of an evaluation.
type Verdict int

const (
	Running Verdict = iota
	Complete
	NotRunning
	VerdictError
)

func (v Verdict) String() string {
	switch v {
	case Running:
		return "running"
	case Complete:
		return "complete"
	case NotRunning:
		return "not_running"
	case VerdictError:
		return "error"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Finished is true for the verdicts that release installs.
func (v Verdict) Finished() bool {
	return v == Complete || v == NotRunning
}

// Phrasing selects the vocabulary used for the finished verdict.
type Phrasing string

const (
	PhrasingComplete   Phrasing = "complete"
	PhrasingNotRunning Phrasing = "not_running"
)

// ParsePhrasing accepts the config spellings of a Phrasing.
func ParsePhrasing(s string) (Phrasing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "complete":
		return PhrasingComplete, nil
	case "not_running", "notrunning", "not-running":
		return PhrasingNotRunning, nil
	default:
		return "", fmt.Errorf("unknown phrasing %q (use complete or not_running)", s)
	}
}

func (p Phrasing) finished() Verdict {
	if p == PhrasingNotRunning {
		return NotRunning
	}
	return Complete
}

// CategoryFinding records how one category was judged.
type CategoryFinding struct {
	Category Category       `json:"category" yaml:"category"`
	Status   CategoryStatus `json:"status" yaml:"status"`
	Running  bool           `json:"running" yaml:"running"`
	Reason   string         `json:"reason" yaml:"reason"`
}

// Result is an evaluation outcome plus the findings behind it.
type Result struct {
	Verdict  Verdict           `json:"verdict" yaml:"verdict"`
	Reason   error             `json:"-" yaml:"-"`
	Findings []CategoryFinding `json:"findings,omitempty" yaml:"findings,omitempty"`
	Phrasing Phrasing          `json:"phrasing" yaml:"phrasing"`
}

// Line is the human-readable status line written to stdout.
func (r Result) Line() string {
	switch r.Verdict {
	case Running:
		return "ESP is running"
	case Complete:
		return "ESP is complete"
	case NotRunning:
		return "ESP is not running"
	default:
		if r.Reason != nil {
			return "ESP state unknown: " + r.Reason.Error()
		}
		return "ESP state unknown"
	}
}
