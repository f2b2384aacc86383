// Package gate runs the ESP evaluator for one call-site profile and turns
// the verdict into the status line and exit code Intune consumes.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/breeze-rmm/espgate/internal/esp"
	"github.com/breeze-rmm/espgate/internal/espsource"
	"github.com/breeze-rmm/espgate/internal/history"
	"github.com/breeze-rmm/espgate/internal/logging"
)

// Outcome is what one check produced.
type Outcome struct {
	Result   esp.Result
	Line     string
	ExitCode int
	Duration time.Duration
}

// Runner evaluates the ESP state from a Reader under one Profile.
type Runner struct {
	reader  espsource.Reader
	profile Profile
	journal *history.Journal
	now     func() time.Time
	log     *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithJournal records every check in j.
func WithJournal(j *history.Journal) Option {
	return func(r *Runner) { r.journal = j }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(reader espsource.Reader, profile Profile, opts ...Option) *Runner {
	r := &Runner{
		reader:  reader,
		profile: profile,
		now:     time.Now,
		log:     logging.WithProfile(logging.L("gate"), profile.Name),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Profile returns the profile the runner evaluates under.
func (r *Runner) Profile() Profile {
	return r.profile
}

// Check performs one evaluation. It never fails: read errors and panics are
// mapped to the profile's fallback verdict.
func (r *Runner) Check(ctx context.Context) Outcome {
	start := r.now()
	res := r.evaluate(ctx)

	out := Outcome{
		Result:   res,
		Line:     res.Line(),
		ExitCode: r.profile.ExitCode(res.Verdict),
		Duration: r.now().Sub(start),
	}

	attrs := []any{logging.KeyVerdict, res.Verdict.String(), "exitCode", out.ExitCode, logging.KeyDurationMs, out.Duration.Milliseconds()}
	for _, f := range res.Findings {
		attrs = append(attrs, string(f.Category), f.Reason)
		if f.Status.Err != nil {
			r.log.Warn("category status unreadable", "category", f.Category, logging.KeyError, f.Status.Err)
		}
	}
	if res.Reason != nil {
		attrs = append(attrs, logging.KeyError, res.Reason.Error(), "kind", string(esp.KindOf(res.Reason)))
		r.log.Warn("evaluation fell back", attrs...)
	} else {
		r.log.Info("evaluation complete", attrs...)
	}

	r.record(out)
	return out
}

func (r *Runner) evaluate(ctx context.Context) (res esp.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic during evaluation", logging.KeyError, p)
			res = esp.Fallback(esp.SourceError("evaluation", fmt.Errorf("panic: %v", p)), r.profile.Policy)
		}
	}()

	raw, err := r.reader.Read(logging.NewContext(ctx, r.log))
	if err != nil {
		return esp.Fallback(err, r.profile.Policy)
	}
	return esp.Decide(raw, r.profile.Policy, r.now())
}

func (r *Runner) record(out Outcome) {
	if r.journal == nil {
		return
	}
	entry := history.Entry{
		Event:   history.EventEvaluation,
		Profile: r.profile.Name,
		Verdict: out.Result.Verdict.String(),
		Details: map[string]any{"exitCode": out.ExitCode},
	}
	if out.Result.Reason != nil {
		entry.Reason = out.Result.Reason.Error()
	}
	for _, f := range out.Result.Findings {
		entry.Details[string(f.Category)] = string(f.Status.State)
	}
	if err := r.journal.Append(entry); err != nil {
		r.log.Warn("history append failed", logging.KeyError, err)
	}
}

// Wait re-checks every interval until the verdict is finished or ctx ends.
// On timeout it returns the last outcome together with ctx's error.
func (r *Runner) Wait(ctx context.Context, interval time.Duration) (Outcome, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		out := r.Check(ctx)
		if out.Result.Verdict.Finished() {
			r.log.Info("ESP finished", "attempts", attempt)
			return out, nil
		}

		select {
		case <-ctx.Done():
			r.log.Warn("gave up waiting for ESP", "attempts", attempt, logging.KeyError, ctx.Err())
			return out, ctx.Err()
		case <-ticker.C:
		}
	}
}
