package guardfile

import (
	"context"
	"fmt"
	"time"

	"github.com/guardfile/guardfile/validator"
)

// guardGrace is how long Invoke waits for a validator to notice a tripped
// context before abandoning its goroutine.
const guardGrace = 50 * time.Millisecond

// Guard supervises one validator invocation: it meters processing bytes,
// bounds wall-clock time and absorbs panics, translating every breach into
// a finding so the pipeline stays total.
type Guard struct {
	// Timeout bounds one invocation. Non-positive means no deadline.
	Timeout time.Duration

	// MaxProcessingBytes caps the cumulative bytes read or produced while
	// validating one input. Non-positive means unlimited.
	MaxProcessingBytes int64
}

// NewGuard builds a guard from policy limits.
func NewGuard(limits validator.Limits) *Guard {
	return &Guard{
		Timeout:            limits.Timeout,
		MaxProcessingBytes: limits.MaxProcessingBytes,
	}
}

// Invoke runs v.Validate under the guard's ceilings and returns everything
// the validator reported plus synthetic findings for any breach it did not
// report itself. The input's Budget is replaced with a fresh budget scoped
// to this invocation.
func (g *Guard) Invoke(ctx context.Context, v validator.Validator, in validator.Input, limits validator.Limits) []validator.Finding {
	budget := validator.NewBudget(g.MaxProcessingBytes)
	in.Budget = budget

	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	done := make(chan []validator.Finding, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- []validator.Finding{
					validator.Newf(validator.KindInconclusive, "validator %s recovered: %v", v.Name(), r),
				}
			}
		}()
		done <- v.Validate(ctx, in, limits)
	}()

	select {
	case findings := <-done:
		return seal(ctx, budget, findings)
	case <-ctx.Done():
	}

	// The deadline tripped first. Well-behaved validators notice at their
	// next checkpoint, so wait briefly for partial results before walking
	// away from the goroutine.
	grace := time.NewTimer(guardGrace)
	defer grace.Stop()
	select {
	case findings := <-done:
		return seal(ctx, budget, findings)
	case <-grace.C:
		f := validator.Newf(validator.KindResourceLimit,
			"validator %s unresponsive after %s deadline", v.Name(), g.Timeout)
		return []validator.Finding{f.WithSeverity(validator.SeverityCritical)}
	}
}

// seal appends a backstop finding when a ceiling was breached but the
// validator did not record the breach itself.
func seal(ctx context.Context, budget *validator.Budget, findings []validator.Finding) []validator.Finding {
	breached := ctx.Err() != nil || budget.Exhausted()
	if !breached || hasResourceFinding(findings) {
		return findings
	}
	detail := fmt.Sprintf("processing budget exhausted after %d bytes", budget.Used())
	if ctx.Err() != nil {
		detail = fmt.Sprintf("validation stopped: %v", ctx.Err())
	}
	return append(findings, validator.Newf(validator.KindResourceLimit, "%s", detail))
}

func hasResourceFinding(findings []validator.Finding) bool {
	for _, f := range findings {
		if f.Kind == validator.KindResourceLimit {
			return true
		}
	}
	return false
}
