// Package risk obtains a risk verdict for an action before it is persisted.
//
// Assessors may fail or hang. The Adapter bounds every call and turns any
// failure into an indeterminate verdict, which forces the approval gate.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/souravb-dev/GenAIOps-sub001/internal/metrics"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
)

var ErrAdapterUnavailable = errors.New("risk assessment unavailable")

const DefaultTimeout = 5 * time.Second

// Assessor scores a single action.
type Assessor interface {
	Assess(ctx context.Context, action *models.Action) (*models.RiskAssessment, error)
}

type Adapter struct {
	assessor Assessor
	timeout  time.Duration
}

// NewAdapter wraps assessor with a per-call timeout. A nil assessor always
// yields an indeterminate verdict.
func NewAdapter(assessor Assessor, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{assessor: assessor, timeout: timeout}
}

// Assess never fails; errors become an indeterminate verdict whose rationale
// says why.
func (a *Adapter) Assess(ctx context.Context, action *models.Action) models.RiskAssessment {
	verdict := a.assess(ctx, action)
	metrics.RecordRiskVerdict(verdict.Level)
	return verdict
}

func (a *Adapter) assess(ctx context.Context, action *models.Action) models.RiskAssessment {
	if a.assessor == nil {
		return indeterminate(fmt.Errorf("%w: no assessor configured", ErrAdapterUnavailable))
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type outcome struct {
		verdict *models.RiskAssessment
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := a.assessor.Assess(ctx, action)
		done <- outcome{verdict: v, err: err}
	}()

	// An assessor that ignores ctx still cannot hold up the caller.
	select {
	case <-ctx.Done():
		glog.Warningf("Risk assessment timed out after %s", a.timeout)
		return indeterminate(fmt.Errorf("%w: timed out after %s", ErrAdapterUnavailable, a.timeout))
	case out := <-done:
		if out.err != nil {
			glog.Warningf("Risk assessment failed: %v", out.err)
			return indeterminate(fmt.Errorf("%w: %v", ErrAdapterUnavailable, out.err))
		}
		if out.verdict == nil || !knownLevel(out.verdict.Level) {
			return indeterminate(fmt.Errorf("%w: unusable verdict", ErrAdapterUnavailable))
		}
		return *out.verdict
	}
}

func knownLevel(l models.RiskLevel) bool {
	switch l {
	case models.RiskLow, models.RiskMedium, models.RiskHigh, models.RiskCritical:
		return true
	}
	return false
}

func indeterminate(err error) models.RiskAssessment {
	return models.RiskAssessment{
		Level:     models.RiskIndeterminate,
		Rationale: err.Error(),
	}
}
