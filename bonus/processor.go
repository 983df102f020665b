package bonus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/credits/governance"
)

// Processor grants due awards in batches.
type Processor struct {
	source  Source
	granter Granter
	risk    RiskChecker
	params  *governance.Resolver
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithRiskChecker sets the risk checker. Without one every due award is
// granted.
func WithRiskChecker(rc RiskChecker) Option {
	return func(p *Processor) { p.risk = rc }
}

// WithGovernance sets the parameter resolver.
func WithGovernance(r *governance.Resolver) Option {
	return func(p *Processor) { p.params = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithClock overrides the processor clock.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a processor.
func NewProcessor(source Source, granter Granter, opts ...Option) *Processor {
	p := &Processor{
		source:  source,
		granter: granter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessDue handles one batch of awards whose hold period has elapsed. It
// returns an error only when the batch cannot be listed; a failure on one
// award is counted and the rest are still processed.
func (p *Processor) ProcessDue(ctx context.Context) (Summary, error) {
	var sum Summary

	hold := p.params.Seconds(ctx, governance.KeyBonusHoldSeconds)
	maxScore := p.params.Int(ctx, governance.KeyBonusMaxRiskScore)
	batch := int(p.params.Int(ctx, governance.KeyBonusBatchSize))

	now := p.now().UTC()
	awards, err := p.source.DueAwards(ctx, now.Add(-hold), batch)
	if err != nil {
		return sum, fmt.Errorf("bonus: list due awards: %w", err)
	}

	for _, a := range awards {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if a.Status != StatusPending || !a.Due(now, hold) {
			continue
		}

		if p.risk != nil {
			score, err := p.risk.Score(ctx, a)
			if err != nil {
				p.logger.Warn("bonus risk check failed",
					"award_id", a.ID.String(),
					"error", err,
				)
				sum.Failed++
				continue
			}
			a.RiskScore = score
			if score > maxScore {
				reason := fmt.Sprintf("risk score %d exceeds %d", score, maxScore)
				if err := p.source.MarkRejected(ctx, a.ID, score, reason); err != nil {
					p.logger.Warn("bonus reject failed",
						"award_id", a.ID.String(),
						"error", err,
					)
					sum.Failed++
					continue
				}
				sum.Rejected++
				continue
			}
		}

		l, err := p.granter.GrantBonus(ctx, a)
		if err != nil {
			p.logger.Warn("bonus grant failed",
				"award_id", a.ID.String(),
				"referrer_id", a.ReferrerID.String(),
				"error", err,
			)
			sum.Failed++
			continue
		}
		if err := p.source.MarkGranted(ctx, a.ID, l.ID); err != nil {
			// The grant is idempotent, so the award is retried next pass.
			p.logger.Warn("bonus mark granted failed",
				"award_id", a.ID.String(),
				"lot_id", l.ID.String(),
				"error", err,
			)
			sum.Failed++
			continue
		}
		sum.Granted++
	}

	p.logger.Info("bonus batch processed",
		"granted", sum.Granted,
		"rejected", sum.Rejected,
		"failed", sum.Failed,
	)
	return sum, nil
}
