// Package compare decides whether a freshly trained candidate replaces the
// deployed incumbent. The decision is a pure function of the two metric
// records and the configured thresholds.
package compare

import (
	"FinTrain/internal/domain/models"
	applogger "FinTrain/pkg/logger"
)

// Thresholds are the acceptance knobs, fixed at construction.
type Thresholds struct {
	// MinimumAccuracy is the validation accuracy floor, in the same units
	// the metrics carry. Applied only when an incumbent exists.
	MinimumAccuracy float64
	// ValidationThreshold is the tolerated fractional increase in
	// validation loss versus the incumbent (0.15 = 15%).
	ValidationThreshold float64
}

// Service implements the acceptance policy.
type Service struct {
	t Thresholds
	l *applogger.Logger
}

// Option configures Service.
type Option func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Service) { s.l = l }
}

// New creates the comparator.
func New(t Thresholds, opts ...Option) *Service {
	s := &Service{t: t}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Accept applies the policy in order: a first model always deploys, then
// the accuracy floor, then the relative loss check. The incumbent argument
// is ignored when hasIncumbent is false.
func (s *Service) Accept(candidate, incumbent models.ModelMetrics, hasIncumbent bool) models.Verdict {
	v := s.decide(candidate, incumbent, hasIncumbent)
	if s.l != nil {
		s.l.Debug("comparison verdict",
			applogger.String("symbol", candidate.Symbol),
			applogger.Bool("accepted", v.Accepted),
			applogger.String("reason", v.Reason),
			applogger.Float64("candidate_val_loss", candidate.ValLoss),
			applogger.Float64("candidate_val_accuracy", candidate.ValAccuracy),
		)
	}
	return v
}

func (s *Service) decide(candidate, incumbent models.ModelMetrics, hasIncumbent bool) models.Verdict {
	if !hasIncumbent {
		return models.Verdict{Accepted: true, Reason: models.VerdictFirstModel}
	}
	if candidate.ValAccuracy < s.t.MinimumAccuracy {
		return models.Verdict{Accepted: false, Reason: models.VerdictLowAccuracy}
	}
	if incumbent.ValLoss > 0 {
		rel := (candidate.ValLoss - incumbent.ValLoss) / incumbent.ValLoss
		if rel > s.t.ValidationThreshold {
			return models.Verdict{Accepted: false, Reason: models.VerdictLossRegressed}
		}
	} else if candidate.ValLoss > incumbent.ValLoss {
		// Incumbent at zero loss: any increase is an unbounded regression.
		return models.Verdict{Accepted: false, Reason: models.VerdictLossRegressed}
	}
	if candidate.ValLoss < incumbent.ValLoss {
		return models.Verdict{Accepted: true, Reason: models.VerdictImproved}
	}
	return models.Verdict{Accepted: true, Reason: models.VerdictWithinTolerance}
}
