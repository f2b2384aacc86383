package joinstate

import "testing"

const dsregSample = `
+----------------------------------------------------------------------+
| Device State                                                         |
+----------------------------------------------------------------------+

             AzureAdJoined : YES
          EnterpriseJoined : NO
              DomainJoined : NO
           WorkplaceJoined : NO

+----------------------------------------------------------------------+
| Tenant Details                                                       |
+----------------------------------------------------------------------+

                TenantName : Contoso
                  TenantId : 0F6C2B8E-1D4A-4F7B-9A3E-5C2D8E1F0A9B
                    MdmUrl : https://enrollment.manage.microsoft.com/enrollmentserver/discovery.svc

+----------------------------------------------------------------------+
| Work Account 1                                                       |
+----------------------------------------------------------------------+

                  TenantId : 7a1e9c4d-2b3f-4e5a-8c6d-9f0e1a2b3c4d
`

func TestDeriveJoinType(t *testing.T) {
	tests := []struct {
		azure, domain, workplace bool
		want                     JoinType
	}{
		{true, true, false, JoinTypeHybridAzureAD},
		{true, false, false, JoinTypeAzureAD},
		{false, true, false, JoinTypeOnPremAD},
		{false, false, true, JoinTypeWorkplace},
		{false, false, false, JoinTypeNone},
	}
	for _, tt := range tests {
		got := deriveJoinType(State{AzureAdJoined: tt.azure, DomainJoined: tt.domain, WorkplaceJoined: tt.workplace})
		if got != tt.want {
			t.Errorf("azure=%v domain=%v workplace=%v: got %s, want %s",
				tt.azure, tt.domain, tt.workplace, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	s := Parse(dsregSample)
	if s.JoinType != JoinTypeAzureAD {
		t.Errorf("JoinType = %s, want azure_ad", s.JoinType)
	}
	if s.TenantName != "Contoso" {
		t.Errorf("TenantName = %q", s.TenantName)
	}
	if s.TenantID != "0F6C2B8E-1D4A-4F7B-9A3E-5C2D8E1F0A9B" {
		t.Errorf("TenantID = %q, want the device tenant, not the work account", s.TenantID)
	}
	if s.MdmURL == "" {
		t.Error("MdmURL should be set")
	}
}

func TestTenantMatches(t *testing.T) {
	s := Parse(dsregSample)
	if !s.TenantMatches(" 0f6c2b8e-1d4a-4f7b-9a3e-5c2d8e1f0a9b ") {
		t.Error("match should ignore case and spaces")
	}
	if s.TenantMatches("7a1e9c4d-2b3f-4e5a-8c6d-9f0e1a2b3c4d") {
		t.Error("work account tenant should not match")
	}
	if s.TenantMatches("") {
		t.Error("empty tenant never matches")
	}
}
