// Package joinstate reports the device's directory join posture as seen by
// dsregcmd. It cross-checks the registry join records the tenant guard reads.
package joinstate

import (
	"strings"

	"github.com/breeze-rmm/espgate/internal/logging"
)

var log = logging.L("joinstate")

// JoinType represents the device's directory join type.
type JoinType string

const (
	JoinTypeHybridAzureAD JoinType = "hybrid_azure_ad"
	JoinTypeAzureAD       JoinType = "azure_ad"
	JoinTypeOnPremAD      JoinType = "on_prem_ad"
	JoinTypeWorkplace     JoinType = "workplace"
	JoinTypeNone          JoinType = "none"
)

// State is the parsed device state section of dsregcmd /status.
type State struct {
	JoinType         JoinType `json:"joinType" yaml:"joinType"`
	AzureAdJoined    bool     `json:"azureAdJoined" yaml:"azureAdJoined"`
	EnterpriseJoined bool     `json:"enterpriseJoined" yaml:"enterpriseJoined"`
	DomainJoined     bool     `json:"domainJoined" yaml:"domainJoined"`
	WorkplaceJoined  bool     `json:"workplaceJoined" yaml:"workplaceJoined"`
	DomainName       string   `json:"domainName,omitempty" yaml:"domainName,omitempty"`
	TenantID         string   `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	TenantName       string   `json:"tenantName,omitempty" yaml:"tenantName,omitempty"`
	MdmURL           string   `json:"mdmUrl,omitempty" yaml:"mdmUrl,omitempty"`
	Source           string   `json:"source" yaml:"source"`
}

// TenantMatches reports whether dsregcmd saw the device joined to tenantID.
func (s State) TenantMatches(tenantID string) bool {
	want := strings.TrimSpace(tenantID)
	return want != "" && strings.EqualFold(strings.TrimSpace(s.TenantID), want)
}

func deriveJoinType(s State) JoinType {
	switch {
	case s.AzureAdJoined && s.DomainJoined:
		return JoinTypeHybridAzureAD
	case s.AzureAdJoined:
		return JoinTypeAzureAD
	case s.DomainJoined:
		return JoinTypeOnPremAD
	case s.WorkplaceJoined:
		return JoinTypeWorkplace
	default:
		return JoinTypeNone
	}
}

// Parse reads dsregcmd /status output. Unknown lines are ignored.
func Parse(output string) State {
	s := State{Source: "dsregcmd"}
	for _, line := range strings.Split(output, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), " : ")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "AzureAdJoined":
			s.AzureAdJoined = strings.EqualFold(val, "YES")
		case "EnterpriseJoined":
			s.EnterpriseJoined = strings.EqualFold(val, "YES")
		case "DomainJoined":
			s.DomainJoined = strings.EqualFold(val, "YES")
		case "WorkplaceJoined":
			s.WorkplaceJoined = strings.EqualFold(val, "YES")
		case "DomainName":
			s.DomainName = val
		case "TenantId":
			if s.TenantID == "" {
				s.TenantID = val
			}
		case "TenantName":
			if s.TenantName == "" {
				s.TenantName = val
			}
		case "MdmUrl":
			s.MdmURL = val
		}
	}
	s.JoinType = deriveJoinType(s)
	return s
}
