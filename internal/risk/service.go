package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
)

const (
	defaultLookupTimeout = 5 * time.Second
	defaultBatchWorkers  = 8

	placeholderScore      = 100
	placeholderConfidence = 50
	placeholderReason     = "Analysis failed"
)

// Service gathers market signals for a token and runs the Scorer over them.
type Service struct {
	scorer        *Scorer
	market        domain.MarketDataProvider // optional
	lookupTimeout time.Duration
	workers       int
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	LookupTimeout time.Duration
	BatchWorkers  int
}

// NewService creates a Service. market may be nil, in which case market
// signal checks are always skipped.
func NewService(scorer *Scorer, market domain.MarketDataProvider, cfg ServiceConfig, m *metrics.Metrics, logger *slog.Logger) *Service {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = defaultLookupTimeout
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = defaultBatchWorkers
	}
	return &Service{
		scorer:        scorer,
		market:        market,
		lookupTimeout: cfg.LookupTimeout,
		workers:       cfg.BatchWorkers,
		metrics:       m,
		logger:        logger.With(slog.String("component", "risk")),
	}
}

// Threshold returns the scam threshold of the underlying scorer.
func (s *Service) Threshold() int { return s.scorer.Threshold() }

// Assess scores one token. Provider failures degrade to "no signals".
func (s *Service) Assess(ctx context.Context, subject domain.TokenSubject) domain.RiskAssessment {
	signals := s.lookup(ctx, subject.Address)
	a := s.scorer.Score(subject, signals)
	s.metrics.RiskScored(a.Score)
	return a
}

// AssessBatch scores every subject independently, preserving order. An item
// whose scoring panics or whose context ends first gets the maximal-risk
// placeholder instead of failing the batch.
func (s *Service) AssessBatch(ctx context.Context, subjects []domain.TokenSubject) []domain.RiskAssessment {
	out := make([]domain.RiskAssessment, len(subjects))

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for i, subj := range subjects {
		g.Go(func() error {
			a, err := s.assessSafe(ctx, subj)
			if err != nil {
				s.logger.WarnContext(ctx, "batch item failed",
					slog.String("address", subj.Address),
					slog.String("error", err.Error()),
				)
				a = Placeholder(subj.Address)
			}
			out[i] = a
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Placeholder is the maximal-risk result used when a token could not be
// analysed.
func Placeholder(address string) domain.RiskAssessment {
	return domain.RiskAssessment{
		Subject:    address,
		Score:      placeholderScore,
		Confidence: placeholderConfidence,
		Reasons:    []string{placeholderReason},
		IsScam:     true,
		CheckedAt:  time.Now().UTC(),
	}
}

func (s *Service) assessSafe(ctx context.Context, subject domain.TokenSubject) (a domain.RiskAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("risk: panic scoring %s: %v", subject.Address, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("risk: assess %s: %w", subject.Address, err)
	}
	return s.Assess(ctx, subject), nil
}

func (s *Service) lookup(ctx context.Context, address string) *domain.MarketSignals {
	if s.market == nil || !addressPattern.MatchString(address) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	signals, err := s.market.MarketSignals(ctx, address)
	if err != nil {
		s.logger.DebugContext(ctx, "market signals unavailable",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return signals
}
