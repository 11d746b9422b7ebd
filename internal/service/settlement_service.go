package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/swapguard/internal/domain"
	"github.com/alanyoungcy/swapguard/internal/metrics"
)

// SwapChannel is the signal bus channel carrying swap lifecycle events.
const SwapChannel = "swaps"

const (
	reasonTimedOut  = "settlement timed out"
	storeOpTimeout  = 10 * time.Second
	lockGracePeriod = 5 * time.Second
)

// RiskAssessor scores a token before a swap into it is admitted.
type RiskAssessor interface {
	Assess(ctx context.Context, subject domain.TokenSubject) domain.RiskAssessment
}

// Confirmer decides the outcome of a pending swap. A nil error completes the
// swap; any error fails it.
type Confirmer interface {
	Confirm(ctx context.Context, tx domain.SwapTransaction) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SimulatedConfirmer completes every swap after a fixed delay. It stands in
// for on-chain finality checks.
type SimulatedConfirmer struct {
	Delay time.Duration
}

// Confirm waits for Delay or until ctx ends.
func (c SimulatedConfirmer) Confirm(ctx context.Context, _ domain.SwapTransaction) error {
	t := time.NewTimer(c.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SettlementConfig tunes admission and settlement.
type SettlementConfig struct {
	BlockThreshold int  // scam tokens scoring above this are rejected
	WarnThreshold  int  // scores at or above this return warnings
	AllowOverride  bool // lets callers acknowledge risk and bypass the block
	SettleTimeout  time.Duration
	StuckAfter     time.Duration
	SweepInterval  time.Duration
	TokenAddresses map[string]string // symbol -> contract address
}

// SubmitRequest is a validated swap submission.
type SubmitRequest struct {
	Owner           string
	FromSymbol      string
	ToSymbol        string
	FromAmount      decimal.Decimal
	ToAmount        decimal.Decimal
	AcknowledgeRisk bool
}

// SubmitResult is returned for an admitted swap.
type SubmitResult struct {
	Swap     domain.SwapTransaction
	Risk     domain.RiskAssessment
	Warnings []string
}

// SwapEvent is published on SwapChannel.
type SwapEvent struct {
	Type string                 `json:"type"`
	Swap domain.SwapTransaction `json:"swap"`
}

// SettlementService owns the swap lifecycle: admission behind the risk gate,
// asynchronous settlement, recovery of stuck records and history queries.
type SettlementService struct {
	store     domain.SwapStore
	wallet    domain.WalletLedger
	risk      RiskAssessor
	prices    domain.PriceCache
	confirmer Confirmer
	cfg       SettlementConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger

	bus      domain.SignalBus   // optional
	locks    domain.LockManager // optional
	audit    domain.AuditStore  // optional
	notifier Notifier           // optional

	baseCtx    context.Context
	baseCancel context.CancelFunc
	mu         sync.Mutex
	inflight   map[string]context.CancelFunc
	wg         sync.WaitGroup
	now        func() time.Time
}

// NewSettlementService creates a SettlementService. Optional collaborators are
// attached with the With* methods.
func NewSettlementService(
	store domain.SwapStore,
	wallet domain.WalletLedger,
	risk RiskAssessor,
	prices domain.PriceCache,
	confirmer Confirmer,
	cfg SettlementConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SettlementService {
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 80
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = 70
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	addrs := make(map[string]string, len(cfg.TokenAddresses))
	for sym, addr := range cfg.TokenAddresses {
		addrs[strings.ToUpper(sym)] = addr
	}
	cfg.TokenAddresses = addrs

	ctx, cancel := context.WithCancel(context.Background())
	return &SettlementService{
		store:      store,
		wallet:     wallet,
		risk:       risk,
		prices:     prices,
		confirmer:  confirmer,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(slog.String("component", "settlement")),
		baseCtx:    ctx,
		baseCancel: cancel,
		inflight:   make(map[string]context.CancelFunc),
		now:        time.Now,
	}
}

// WithSignalBus publishes swap events on bus.
func (s *SettlementService) WithSignalBus(bus domain.SignalBus) *SettlementService {
	s.bus = bus
	return s
}

// WithLocks guards each settlement with a distributed lock so only one
// instance settles a given record.
func (s *SettlementService) WithLocks(locks domain.LockManager) *SettlementService {
	s.locks = locks
	return s
}

// WithAudit records rejections, overrides and outcomes in audit.
func (s *SettlementService) WithAudit(audit domain.AuditStore) *SettlementService {
	s.audit = audit
	return s
}

// WithNotifier sends operator alerts through n.
func (s *SettlementService) WithNotifier(n Notifier) *SettlementService {
	s.notifier = n
	return s
}

// Submit admits a swap. The returned record is pending; settlement continues
// in the background.
func (s *SettlementService) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	req.FromSymbol = strings.ToUpper(strings.TrimSpace(req.FromSymbol))
	req.ToSymbol = strings.ToUpper(strings.TrimSpace(req.ToSymbol))

	if err := validateSubmit(req); err != nil {
		s.metrics.SwapSubmitted("invalid")
		return SubmitResult{}, err
	}

	ready, err := s.wallet.IsReady(ctx, req.Owner)
	if err != nil {
		s.metrics.SwapSubmitted("error")
		return SubmitResult{}, fmt.Errorf("service: submit: wallet check: %w", err)
	}
	if !ready {
		s.metrics.SwapSubmitted("precondition_failed")
		return SubmitResult{}, fmt.Errorf("service: submit: wallet not connected: %w", domain.ErrPreconditionFailed)
	}

	assessment := s.risk.Assess(ctx, s.subjectFor(req.ToSymbol))
	if assessment.IsScam && assessment.Score > s.cfg.BlockThreshold {
		if !(req.AcknowledgeRisk && s.cfg.AllowOverride) {
			s.metrics.SwapSubmitted("rejected_risk")
			s.recordRejection(ctx, req, assessment)
			return SubmitResult{}, &domain.RiskRejectedError{
				Score:     assessment.Score,
				Threshold: s.cfg.BlockThreshold,
				Reasons:   assessment.Reasons,
			}
		}
		s.auditLog(ctx, "swap.risk_override", map[string]any{
			"owner":      req.Owner,
			"to_symbol":  req.ToSymbol,
			"risk_score": assessment.Score,
		})
	}

	now := s.now().UTC()
	tx := domain.SwapTransaction{
		ID:           uuid.NewString(),
		Owner:        req.Owner,
		FromSymbol:   req.FromSymbol,
		ToSymbol:     req.ToSymbol,
		FromAmount:   req.FromAmount,
		ToAmount:     req.ToAmount,
		ExchangeRate: req.ToAmount.Div(req.FromAmount),
		Status:       domain.SwapStatusPending,
		RiskScore:    assessment.Score,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx.Reference = settlementReference(tx)

	if err := s.store.Create(ctx, tx); err != nil {
		s.metrics.SwapSubmitted("error")
		return SubmitResult{}, fmt.Errorf("service: submit: persist swap: %w", err)
	}
	s.metrics.SwapSubmitted("accepted")

	s.logger.InfoContext(ctx, "swap admitted",
		slog.String("swap_id", tx.ID),
		slog.String("owner", tx.Owner),
		slog.String("pair", tx.FromSymbol+"/"+tx.ToSymbol),
		slog.Int("risk_score", tx.RiskScore),
	)
	s.publish(ctx, "swap_submitted", tx)
	s.dispatch(tx)

	res := SubmitResult{Swap: tx, Risk: assessment}
	if assessment.Score >= s.cfg.WarnThreshold {
		res.Warnings = assessment.Reasons
	}
	return res, nil
}

// Finalize moves a pending swap to a terminal status and runs the outcome
// side effects. It reports false when the record was already terminal, in
// which case nothing happens.
func (s *SettlementService) Finalize(ctx context.Context, id string, status domain.SwapStatus, reason string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("service: finalize %s: status %q is not terminal: %w", id, status, domain.ErrInvalidArgument)
	}

	ok, err := s.store.Transition(ctx, id, status, reason, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("service: finalize %s: %w", id, err)
	}
	if !ok {
		s.logger.DebugContext(ctx, "swap already terminal", slog.String("swap_id", id))
		return false, nil
	}

	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return true, fmt.Errorf("service: finalize %s: reload: %w", id, err)
	}
	s.afterSettle(ctx, tx)
	return true, nil
}

// Get returns one of the owner's swaps.
func (s *SettlementService) Get(ctx context.Context, owner, id string) (domain.SwapTransaction, error) {
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return domain.SwapTransaction{}, fmt.Errorf("service: get swap %s: %w", id, err)
	}
	if tx.Owner != owner {
		return domain.SwapTransaction{}, fmt.Errorf("service: get swap %s: %w", id, domain.ErrNotFound)
	}
	return tx, nil
}

// History returns a page of the owner's swaps, newest first.
func (s *SettlementService) History(ctx context.Context, owner string, filter domain.SwapFilter, opts domain.ListOpts) (domain.SwapPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return domain.SwapPage{}, fmt.Errorf("service: history: unknown status %q: %w", filter.Status, domain.ErrInvalidArgument)
	}
	page, err := s.store.List(ctx, owner, filter, opts)
	if err != nil {
		return domain.SwapPage{}, fmt.Errorf("service: history: %w", err)
	}
	return page, nil
}

// Stats aggregates all of the owner's swaps.
func (s *SettlementService) Stats(ctx context.Context, owner string) (domain.SwapStats, error) {
	st, err := s.store.Stats(ctx, owner)
	if err != nil {
		return domain.SwapStats{}, fmt.Errorf("service: stats: %w", err)
	}
	return st, nil
}

// RecoverStuck fails pending swaps older than the configured StuckAfter that
// are not being settled by this process.
func (s *SettlementService) RecoverStuck(ctx context.Context) (int, error) {
	stale, err := s.store.ListStalePending(ctx, s.now().UTC().Add(-s.cfg.StuckAfter))
	if err != nil {
		return 0, fmt.Errorf("service: recover stuck swaps: %w", err)
	}

	recovered := 0
	for _, tx := range stale {
		if s.isInflight(tx.ID) {
			continue
		}
		ok, err := s.Finalize(ctx, tx.ID, domain.SwapStatusFailed, reasonTimedOut)
		if err != nil {
			s.logger.ErrorContext(ctx, "recover stuck swap failed",
				slog.String("swap_id", tx.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		s.logger.WarnContext(ctx, "failed stuck pending swaps", slog.Int("count", recovered))
	}
	return recovered, nil
}

// RunSweeper runs RecoverStuck immediately and then on every SweepInterval
// until ctx is cancelled.
func (s *SettlementService) RunSweeper(ctx context.Context) error {
	if _, err := s.RecoverStuck(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RecoverStuck(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Shutdown cancels in-flight settlements and waits for them to return or for
// ctx to end. Cancelled settlements stay pending for the next sweep.
func (s *SettlementService) Shutdown(ctx context.Context) error {
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service: settlement shutdown: %w", ctx.Err())
	}
}

// Wait blocks until every dispatched settlement has returned.
func (s *SettlementService) Wait() {
	s.wg.Wait()
}

func (s *SettlementService) dispatch(tx domain.SwapTransaction) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.SettleTimeout)

	s.mu.Lock()
	s.inflight[tx.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, tx.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.settle(ctx, tx)
	}()
}

func (s *SettlementService) settle(ctx context.Context, tx domain.SwapTransaction) {
	log := s.logger.With(slog.String("swap_id", tx.ID))

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "settle:"+tx.Reference, s.cfg.SettleTimeout+lockGracePeriod)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			log.InfoContext(ctx, "settlement owned by another instance")
			return
		case err != nil:
			log.WarnContext(ctx, "settlement lock unavailable, continuing unlocked",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	status, reason := domain.SwapStatusCompleted, ""
	if err := s.confirmer.Confirm(ctx, tx); err != nil {
		if s.baseCtx.Err() != nil {
			log.Info("settlement interrupted by shutdown, left pending")
			return
		}
		status = domain.SwapStatusFailed
		reason = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = reasonTimedOut
		}
	}

	storeCtx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if _, err := s.Finalize(storeCtx, tx.ID, status, reason); err != nil {
		log.ErrorContext(storeCtx, "finalize swap failed", slog.String("error", err.Error()))
	}
}

func (s *SettlementService) afterSettle(ctx context.Context, tx domain.SwapTransaction) {
	s.metrics.SwapSettled(string(tx.Status), tx.UpdatedAt.Sub(tx.CreatedAt).Seconds())
	s.logger.InfoContext(ctx, "swap settled",
		slog.String("swap_id", tx.ID),
		slog.String("status", string(tx.Status)),
		slog.String("reason", tx.FailureReason),
	)

	s.publish(ctx, "swap_settled", tx)
	s.auditLog(ctx, "swap.settled", map[string]any{
		"swap_id": tx.ID,
		"owner":   tx.Owner,
		"status":  string(tx.Status),
		"reason":  tx.FailureReason,
	})
	if s.notifier != nil {
		title := fmt.Sprintf("Swap %s", tx.Status)
		msg := fmt.Sprintf("%s %s -> %s %s (%s)", tx.FromAmount, tx.FromSymbol, tx.ToAmount, tx.ToSymbol, tx.ID)
		if tx.FailureReason != "" {
			msg += ": " + tx.FailureReason
		}
		if err := s.notifier.Notify(ctx, "swap_"+string(tx.Status), title, msg); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}

	if tx.Status == domain.SwapStatusCompleted {
		if _, err := s.wallet.RefreshBalance(ctx, tx.Owner); err != nil {
			s.logger.WarnContext(ctx, "balance refresh failed",
				slog.String("owner", tx.Owner),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *SettlementService) recordRejection(ctx context.Context, req SubmitRequest, a domain.RiskAssessment) {
	s.logger.WarnContext(ctx, "swap rejected by risk gate",
		slog.String("owner", req.Owner),
		slog.String("to_symbol", req.ToSymbol),
		slog.Int("risk_score", a.Score),
	)
	s.auditLog(ctx, "swap.risk_rejected", map[string]any{
		"owner":      req.Owner,
		"to_symbol":  req.ToSymbol,
		"risk_score": a.Score,
		"reasons":    a.Reasons,
	})
	if s.notifier != nil {
		msg := fmt.Sprintf("%s -> %s blocked with score %d", req.FromSymbol, req.ToSymbol, a.Score)
		if err := s.notifier.Notify(ctx, "risk_rejected", "Swap blocked", msg); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func (s *SettlementService) subjectFor(symbol string) domain.TokenSubject {
	subj := domain.TokenSubject{Address: symbol, Name: symbol, Symbol: symbol}
	if addr, ok := s.cfg.TokenAddresses[symbol]; ok && addr != "" {
		subj.Address = addr
	}
	if e, ok := s.prices.Get(symbol); ok && e.Name != "" {
		subj.Name = e.Name
	}
	return subj
}

func (s *SettlementService) publish(ctx context.Context, kind string, tx domain.SwapTransaction) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(SwapEvent{Type: kind, Swap: tx})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, SwapChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish swap event failed",
			slog.String("type", kind),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SettlementService) isInflight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

func validateSubmit(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.Owner) == "":
		return fmt.Errorf("service: submit: owner required: %w", domain.ErrInvalidArgument)
	case req.FromSymbol == "" || req.ToSymbol == "":
		return fmt.Errorf("service: submit: symbols required: %w", domain.ErrInvalidArgument)
	case req.FromSymbol == req.ToSymbol:
		return fmt.Errorf("service: submit: cannot swap %s into itself: %w", req.FromSymbol, domain.ErrInvalidArgument)
	case !req.FromAmount.IsPositive() || !req.ToAmount.IsPositive():
		return fmt.Errorf("service: submit: amounts must be positive: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// settlementReference derives the unique settlement hash for a swap.
func settlementReference(tx domain.SwapTransaction) string {
	seed := strings.Join([]string{
		tx.ID,
		tx.Owner,
		tx.FromSymbol,
		tx.ToSymbol,
		tx.FromAmount.String(),
		tx.ToAmount.String(),
		tx.CreatedAt.Format(time.RFC3339Nano),
	}, "|")
	return crypto.Keccak256Hash([]byte(seed)).Hex()
}
