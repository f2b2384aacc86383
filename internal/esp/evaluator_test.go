package esp

import (
	"errors"
	"testing"
	"time"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

const (
	finishedBlob = `{"categoryState":"succeeded"}`
	completeText = `{"categoryStatusText":"Complete"}`
	pendingBlob  = `{"categoryState":"inProgress"}`
)

func detectionPolicy() Policy {
	return Policy{FailOpenOnError: true, Phrasing: PhrasingComplete, GracePeriod: time.Hour}
}

func requirementPolicy() Policy {
	return Policy{GateOnIdentityMismatch: true, FailOpenOnError: true, Phrasing: PhrasingNotRunning, GracePeriod: time.Hour}
}

func enrolled(raw Raw) Raw {
	raw.Tenant = TenantIdentity{CloudAssignedTenantID: tenantA, JoinedTenantIDs: []string{tenantA}}
	return raw
}

func marker(t time.Time) []string {
	return []string{t.Format(StartTimeLayout)}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		raw    Raw
		policy Policy
		want   Verdict
	}{
		{
			name:   "all finished",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: completeText, AccountSetup: finishedBlob}),
			policy: detectionPolicy(),
			want:   Complete,
		},
		{
			name:   "all finished with not running phrasing",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: completeText, AccountSetup: `{"categoryStatusMessage":"Failed"}`}),
			policy: requirementPolicy(),
			want:   NotRunning,
		},
		{
			name:   "userless with account setup not started",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: `{"categoryState":"notStarted"}`, Userless: true}),
			policy: detectionPolicy(),
			want:   Complete,
		},
		{
			name:   "userless does not excuse account setup in progress",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: pendingBlob, Userless: true}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "device prep pending",
			raw:    enrolled(Raw{DevicePrep: pendingBlob, DeviceSetup: finishedBlob, AccountSetup: finishedBlob}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "device setup not reported",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, AccountSetup: finishedBlob, StartTimeKeys: marker(now.Add(-2 * time.Hour))}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "account setup pending within grace period",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: pendingBlob, StartTimeKeys: marker(now.Add(-30 * time.Minute))}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "account setup pending past grace period",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: pendingBlob, StartTimeKeys: marker(now.Add(-time.Hour))}),
			policy: detectionPolicy(),
			want:   Complete,
		},
		{
			name:   "account setup pending with two markers",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: pendingBlob, StartTimeKeys: append(marker(now.Add(-3*time.Hour)), marker(now.Add(-2*time.Hour))...)}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "account setup pending with unparsable marker",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: pendingBlob, StartTimeKeys: []string{"not a date"}}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "malformed device blob is pending not fatal",
			raw:    enrolled(Raw{DevicePrep: `{"categoryState"`, DeviceSetup: finishedBlob, AccountSetup: finishedBlob}),
			policy: detectionPolicy(),
			want:   Running,
		},
		{
			name:   "malformed account blob past grace period",
			raw:    enrolled(Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: `not json`, StartTimeKeys: marker(now.Add(-2 * time.Hour))}),
			policy: detectionPolicy(),
			want:   Complete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.raw, tt.policy, now)
			if got.Verdict != tt.want {
				t.Fatalf("verdict = %s, want %s (findings %+v)", got.Verdict, tt.want, got.Findings)
			}
			if len(got.Findings) != 3 {
				t.Fatalf("expected 3 findings, got %d", len(got.Findings))
			}
		})
	}
}

func TestDecideDocumentedExamples(t *testing.T) {
	raw := enrolled(Raw{
		DevicePrep:  `{"categoryState":"succeeded"}`,
		DeviceSetup: `{"categoryStatusText":"Complete"}`,
	})

	got := Decide(raw, detectionPolicy(), now)
	if got.Verdict != Running {
		t.Fatalf("non-userless verdict = %s, want running", got.Verdict)
	}
	account := got.Findings[2]
	if !account.Running || account.Category != CategoryAccountSetup {
		t.Fatalf("account setup finding = %+v, want running", account)
	}

	raw.Userless = true
	got = Decide(raw, detectionPolicy(), now)
	if got.Verdict != Complete {
		t.Fatalf("userless verdict = %s, want complete", got.Verdict)
	}
	if got.Line() != "ESP is complete" {
		t.Fatalf("line = %q", got.Line())
	}
}

func TestDecideIdentityFallback(t *testing.T) {
	finished := Raw{DevicePrep: finishedBlob, DeviceSetup: finishedBlob, AccountSetup: finishedBlob}
	mismatched := finished
	mismatched.Tenant = TenantIdentity{CloudAssignedTenantID: tenantA, JoinedTenantIDs: []string{tenantB}}
	missing := finished

	tests := []struct {
		name   string
		raw    Raw
		policy Policy
		want   Verdict
		line   string
	}{
		{name: "gated mismatch reports not running", raw: mismatched, policy: requirementPolicy(), want: NotRunning, line: "ESP is not running"},
		{name: "gated missing reports not running", raw: missing, policy: requirementPolicy(), want: NotRunning, line: "ESP is not running"},
		{name: "fail open mismatch reports running", raw: mismatched, policy: detectionPolicy(), want: Running, line: "ESP is running"},
		{name: "strict mismatch reports error", raw: mismatched, policy: Policy{Phrasing: PhrasingComplete}, want: VerdictError},
		{name: "strict missing reports error", raw: missing, policy: Policy{Phrasing: PhrasingComplete}, want: VerdictError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.raw, tt.policy, now)
			if got.Verdict != tt.want {
				t.Fatalf("verdict = %s, want %s", got.Verdict, tt.want)
			}
			if got.Reason == nil {
				t.Fatal("identity fallback should carry its reason")
			}
			if tt.line != "" && got.Line() != tt.line {
				t.Fatalf("line = %q, want %q", got.Line(), tt.line)
			}
			if len(got.Findings) != 0 {
				t.Fatal("categories must not be evaluated after an identity failure")
			}
		})
	}
}

func TestFallbackSourceFailure(t *testing.T) {
	err := SourceError("device setup", errors.New("access denied"))

	gated := Fallback(err, requirementPolicy())
	if gated.Verdict != Running {
		t.Fatalf("source failure under gating policy = %s, want running", gated.Verdict)
	}

	strict := Fallback(err, Policy{})
	if strict.Verdict != VerdictError {
		t.Fatalf("strict verdict = %s, want error", strict.Verdict)
	}
	if KindOf(strict.Reason) != KindSourceFailure {
		t.Fatalf("kind = %q, want source failure", KindOf(strict.Reason))
	}
	if strict.Line() != "ESP state unknown: source_failure: device setup: access denied" {
		t.Fatalf("line = %q", strict.Line())
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	s := NewSnapshot(Raw{DevicePrep: finishedBlob, DeviceSetup: pendingBlob}, now)
	first := Evaluate(s, detectionPolicy())
	for i := 0; i < 5; i++ {
		if got := Evaluate(s, detectionPolicy()); got.Verdict != first.Verdict {
			t.Fatalf("run %d verdict = %s, want %s", i, got.Verdict, first.Verdict)
		}
	}
}

func TestVerdictMarshalText(t *testing.T) {
	b, err := NotRunning.MarshalText()
	if err != nil || string(b) != "not_running" {
		t.Fatalf("MarshalText = %q, %v", b, err)
	}
}
