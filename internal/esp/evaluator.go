package esp

import (
	"errors"
	"time"
)

// Policy is the per-call-site configuration of the evaluator.
type Policy struct {
	// GateOnIdentityMismatch makes a tenant identity failure decisive: the
	// finished verdict is reported so off-tenant devices never block installs.
	// When false, identity failures are handled like any other error.
	GateOnIdentityMismatch bool
	// FailOpenOnError maps errors to Running. When false they surface as
	// VerdictError with the cause attached.
	FailOpenOnError bool
	TenantMatch     TenantMatch
	Phrasing        Phrasing
	GracePeriod     time.Duration
}

// Decide runs the full pipeline over one raw read: tenant guard, category
// parsing and state fusion.
func Decide(raw Raw, p Policy, now time.Time) Result {
	if err := GuardTenant(raw.Tenant, p.TenantMatch); err != nil {
		return Fallback(err, p)
	}
	return Evaluate(NewSnapshot(raw, now), p)
}

// Fallback maps a failure to the verdict the policy prescribes.
func Fallback(err error, p Policy) Result {
	res := Result{Reason: err, Phrasing: p.Phrasing}
	var e *Error
	identity := errors.Is(err, ErrTenantIDNotFound) || errors.Is(err, ErrTenantIDMismatch) ||
		(errors.As(err, &e) && e.Kind == KindIdentityMismatch)
	switch {
	case identity && p.GateOnIdentityMismatch:
		res.Verdict = p.Phrasing.finished()
	case p.FailOpenOnError:
		res.Verdict = Running
	default:
		res.Verdict = VerdictError
	}
	return res
}

// Evaluate fuses the three categories into one verdict. It is pure.
func Evaluate(s Snapshot, p Policy) Result {
	clock := GraceClock{Period: p.GracePeriod}
	findings := []CategoryFinding{
		judgeDevice(CategoryDevicePrep, s.DevicePrep),
		judgeDevice(CategoryDeviceSetup, s.DeviceSetup),
		judgeAccount(s, clock),
	}

	res := Result{Verdict: p.Phrasing.finished(), Findings: findings, Phrasing: p.Phrasing}
	for _, f := range findings {
		if f.Running {
			res.Verdict = Running
			break
		}
	}
	return res
}

func judgeDevice(cat Category, st CategoryStatus) CategoryFinding {
	f := CategoryFinding{Category: cat, Status: st}
	switch {
	case st.Finished():
		f.Reason = "finished"
	case st.Err != nil:
		f.Running = true
		f.Reason = "unreadable status, treated as pending"
	default:
		f.Running = true
		f.Reason = "pending"
	}
	return f
}

func judgeAccount(s Snapshot, clock GraceClock) CategoryFinding {
	st := s.AccountSetup
	f := CategoryFinding{Category: CategoryAccountSetup, Status: st}
	switch {
	case st.Finished():
		f.Reason = "finished"
	case s.Userless && st.State == StateNotStarted:
		f.Reason = "userless enrollment, account setup not expected"
	case s.StartTimeErr != nil:
		f.Running = true
		f.Reason = "pending, grace period unknown: " + s.StartTimeErr.Error()
	case clock.Elapsed(s.StartTime, s.Now):
		f.Reason = "pending past grace period"
	default:
		f.Running = true
		f.Reason = "pending within grace period"
	}
	return f
}
