// Package evolution implements the reward evolution engine: eligibility
// scoring, the rarity-weighted surprise lottery, and the accrual and claim
// ledger for evolved positions.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/metrics"
	"github.com/R3E-Network/rewards_layer/internal/app/storage"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Notifier receives engine events after they are committed. Implementations
// must not block; delivery failures never roll anything back.
type Notifier interface {
	EvolutionCompleted(ctx context.Context, notice domain.EvolutionNotice)
	EarningsClaimed(ctx context.Context, credit domain.BalanceCredit)
}

type noopNotifier struct{}

func (noopNotifier) EvolutionCompleted(context.Context, domain.EvolutionNotice) {}
func (noopNotifier) EarningsClaimed(context.Context, domain.BalanceCredit)     {}

// Service exposes the engine operations to the API layer.
type Service struct {
	store    storage.EvolutionStore
	registry *Registry
	stats    *StatsCollector
	ledger   *Ledger
	rng      RandomSource
	locker   KeyLocker
	notifier Notifier
	now      func() time.Time
	log      *logger.Logger

	claimAttempts int
}

// Option configures optional collaborators.
type Option func(*Service)

// WithRandomSource overrides the lottery random source (crypto by default).
func WithRandomSource(rng RandomSource) Option {
	return func(s *Service) { s.rng = rng }
}

// WithLocker overrides the per-position lock (in-process by default).
func WithLocker(l KeyLocker) Option {
	return func(s *Service) { s.locker = l }
}

// WithNotifier sets the event sink for evolutions and claims.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithClaimAttempts bounds compare-and-swap retries per claim.
func WithClaimAttempts(n int) Option {
	return func(s *Service) { s.claimAttempts = n }
}

// New constructs the engine service.
func New(store storage.EvolutionStore, registry *Registry, stats *StatsCollector, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("evolution")
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if stats == nil {
		stats = NewStatsCollector(StatsSources{}, 0, log)
	}
	s := &Service{
		store:    store,
		registry: registry,
		stats:    stats,
		rng:      NewCryptoSource(),
		locker:   NewMutexLocker(),
		notifier: noopNotifier{},
		now:      time.Now,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = NewLedger(store, s.claimAttempts, log)
	return s
}

// Registry returns the catalog registry backing the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

// clock returns the current time at the precision the stores persist.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CheckEligibility evaluates the user's current stats against the active
// criteria of basePositionID. It never changes state.
func (s *Service) CheckEligibility(ctx context.Context, userID, basePositionID string) (domain.EligibilityResult, error) {
	if err := validateIDs(userID, basePositionID); err != nil {
		return domain.EligibilityResult{}, err
	}

	result := s.evaluate(ctx, s.registry.Snapshot(), userID, basePositionID)

	if _, err := s.store.GetRecordByPosition(ctx, userID, basePositionID); err == nil {
		result.State = domain.StateEvolved
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.EligibilityResult{}, fmt.Errorf("lookup evolution record: %w", err)
	}

	metrics.RecordEligibilityCheck(result.Eligible)
	return result, nil
}

// AttemptEvolution runs the one-time lottery for (userID, basePositionID).
// The check, draw and insert run under a per-position lock and the store's
// insert-if-absent guarantees a single record even across processes.
func (s *Service) AttemptEvolution(ctx context.Context, userID, basePositionID string) (domain.Record, error) {
	if err := validateIDs(userID, basePositionID); err != nil {
		return domain.Record{}, err
	}
	log := s.log.WithField("user_id", userID).WithField("base_position_id", basePositionID)

	unlock, err := s.locker.Lock(ctx, positionLockKey(userID, basePositionID))
	if err != nil {
		return domain.Record{}, fmt.Errorf("acquire position lock: %w", err)
	}
	defer unlock()

	if _, err := s.store.GetRecordByPosition(ctx, userID, basePositionID); err == nil {
		metrics.RecordEvolutionRejected("already_evolved")
		return domain.Record{}, ErrAlreadyEvolved
	} else if !errors.Is(err, storage.ErrNotFound) {
		return domain.Record{}, fmt.Errorf("lookup evolution record: %w", err)
	}

	snap := s.registry.Snapshot()
	stats := s.stats.Collect(ctx, userID)
	result := s.evaluateStats(snap, stats, userID, basePositionID)
	metrics.RecordEligibilityCheck(result.Eligible)
	if !result.Eligible {
		metrics.RecordEvolutionRejected("not_eligible")
		log.WithField("missing", strings.Join(result.MissingRequirements, "; ")).Info("evolution rejected: not eligible")
		return domain.Record{}, &NotEligibleError{Result: result}
	}

	draw, err := Select(basePositionID, snap.VariantsFor(basePositionID), s.rng)
	if err != nil {
		if errors.Is(err, ErrNoVariantsConfigured) {
			metrics.RecordEvolutionRejected("no_variants")
			log.Warn("evolution rejected: no surprise variants configured")
		}
		return domain.Record{}, err
	}

	now := s.clock()
	rec, err := s.store.CreateRecord(ctx, domain.Record{
		ID:                   uuid.NewString(),
		UserID:               userID,
		BasePositionID:       basePositionID,
		VariantID:            draw.Variant.ID,
		EvolvedAt:            now,
		RecordedInvestment:   stats.TotalInvested,
		RecordedStaking:      stats.TotalStaked,
		RecordedDaysStaked:   stats.MaxDaysStaked,
		RecordedTransactions: stats.TotalTransactions,
		RecordedReferrals:    stats.SuccessfulReferrals,
		LastClaimAt:          now,
		DrawRoll:             draw.Roll,
		DrawTotalWeight:      draw.TotalWeight,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			metrics.RecordEvolutionRejected("already_evolved")
			return domain.Record{}, ErrAlreadyEvolved
		}
		return domain.Record{}, fmt.Errorf("create evolution record: %w", err)
	}

	metrics.RecordEvolution(draw.Variant.Rarity.String())
	log.WithField("record_id", rec.ID).
		WithField("variant_id", draw.Variant.ID).
		WithField("rarity", draw.Variant.Rarity.String()).
		WithField("roll", fmt.Sprintf("%d/%d", draw.Roll, draw.TotalWeight)).
		Info("position evolved")

	s.notifier.EvolutionCompleted(ctx, domain.EvolutionNotice{
		RecordID:       rec.ID,
		UserID:         userID,
		BasePositionID: basePositionID,
		VariantID:      draw.Variant.ID,
		VariantName:    draw.Variant.Name,
		Rarity:         draw.Variant.Rarity,
		EvolvedAt:      rec.EvolvedAt,
	})
	return rec, nil
}

// ClaimEarnings pays out everything accrued on the evolved position since
// its last claim. The balance credit is emitted only after the ledger commit.
func (s *Service) ClaimEarnings(ctx context.Context, userID, basePositionID string) (domain.ClaimEvent, error) {
	if err := validateIDs(userID, basePositionID); err != nil {
		return domain.ClaimEvent{}, err
	}
	log := s.log.WithField("user_id", userID).WithField("base_position_id", basePositionID)

	rec, variant, err := s.loadEvolution(ctx, userID, basePositionID)
	if err != nil {
		if errors.Is(err, ErrNoEvolutionRecord) {
			metrics.RecordClaim("no_record", 0)
		}
		return domain.ClaimEvent{}, err
	}

	event, err := s.ledger.Claim(ctx, rec, variant, s.clock())
	switch {
	case errors.Is(err, ErrNothingToClaim):
		metrics.RecordClaim("nothing_to_claim", 0)
		return domain.ClaimEvent{}, err
	case errors.Is(err, ErrClaimConflict):
		metrics.RecordClaim("conflict", 0)
		return domain.ClaimEvent{}, err
	case err != nil:
		metrics.RecordClaim("error", 0)
		return domain.ClaimEvent{}, err
	}

	amount, _ := event.AmountClaimed.Float64()
	metrics.RecordClaim("success", amount)
	log.WithField("record_id", rec.ID).
		WithField("claim_id", event.ID).
		WithField("amount", event.AmountClaimed.StringFixed(2)).
		Info("earnings claimed")

	s.notifier.EarningsClaimed(ctx, domain.BalanceCredit{
		ID:             event.ID,
		UserID:         userID,
		RecordID:       rec.ID,
		BasePositionID: basePositionID,
		Amount:         event.AmountClaimed,
		ClaimedAt:      event.ClaimedAt,
	})
	return event, nil
}

// EvolutionView summarises an evolved position for display.
type EvolutionView struct {
	Record        domain.Record   `json:"record"`
	Variant       domain.Variant  `json:"variant"`
	Claimable     decimal.Decimal `json:"claimable"`
	TotalClaimed  decimal.Decimal `json:"total_claimed"`
	TotalAccrued  decimal.Decimal `json:"total_accrued"`
	DailyRate     decimal.Decimal `json:"daily_rate"`
	NextAccrualAt time.Time       `json:"next_accrual_at"`
}

// GetEvolution returns the record, its variant and the current accrual.
func (s *Service) GetEvolution(ctx context.Context, userID, basePositionID string) (EvolutionView, error) {
	if err := validateIDs(userID, basePositionID); err != nil {
		return EvolutionView{}, err
	}
	rec, variant, err := s.loadEvolution(ctx, userID, basePositionID)
	if err != nil {
		return EvolutionView{}, err
	}
	claimed, err := s.store.SumClaimed(ctx, rec.ID)
	if err != nil {
		return EvolutionView{}, fmt.Errorf("sum claims: %w", err)
	}

	now := s.clock()
	days, _ := AccrualWindow(rec, now)
	next := rec.LastClaimAt.Add(time.Duration(days+1) * day)
	return EvolutionView{
		Record:        rec,
		Variant:       variant,
		Claimable:     AccruedSince(rec, variant, now),
		TotalClaimed:  claimed,
		DailyRate:     DailyRate(rec, variant).Round(6),
		NextAccrualAt: next,
		TotalAccrued:  CumulativeAccrual(rec, variant, now),
	}, nil
}

// ListClaims returns the claim history of an evolved position, oldest first.
func (s *Service) ListClaims(ctx context.Context, userID, basePositionID string) ([]domain.ClaimEvent, error) {
	if err := validateIDs(userID, basePositionID); err != nil {
		return nil, err
	}
	rec, err := s.store.GetRecordByPosition(ctx, userID, basePositionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoEvolutionRecord
		}
		return nil, fmt.Errorf("lookup evolution record: %w", err)
	}
	return s.store.ListClaimEvents(ctx, rec.ID)
}

// ListEvolutions returns every record the user owns.
func (s *Service) ListEvolutions(ctx context.Context, userID string) ([]domain.Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.store.ListRecordsByUser(ctx, userID)
}

func (s *Service) loadEvolution(ctx context.Context, userID, basePositionID string) (domain.Record, domain.Variant, error) {
	rec, err := s.store.GetRecordByPosition(ctx, userID, basePositionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Record{}, domain.Variant{}, ErrNoEvolutionRecord
		}
		return domain.Record{}, domain.Variant{}, fmt.Errorf("lookup evolution record: %w", err)
	}
	variant, ok := s.registry.Snapshot().Variant(rec.VariantID)
	if !ok {
		return domain.Record{}, domain.Variant{}, fmt.Errorf("%w: %s", ErrVariantNotFound, rec.VariantID)
	}
	return rec, variant, nil
}

func (s *Service) evaluate(ctx context.Context, snap *Snapshot, userID, basePositionID string) domain.EligibilityResult {
	if _, ok := snap.CriteriaFor(basePositionID); !ok {
		return s.evaluateStats(snap, domain.Stats{}, userID, basePositionID)
	}
	return s.evaluateStats(snap, s.stats.Collect(ctx, userID), userID, basePositionID)
}

func (s *Service) evaluateStats(snap *Snapshot, stats domain.Stats, userID, basePositionID string) domain.EligibilityResult {
	var result domain.EligibilityResult
	if criteria, ok := snap.CriteriaFor(basePositionID); ok {
		result = Evaluate(stats, &criteria)
	} else {
		result = Evaluate(stats, nil)
	}
	result.UserID = userID
	result.BasePositionID = basePositionID
	return result
}

func validateIDs(userID, basePositionID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(basePositionID) == "" {
		return fmt.Errorf("%w: base position id is required", ErrInvalidInput)
	}
	return nil
}
