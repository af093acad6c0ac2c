package evolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/metrics"
	"github.com/R3E-Network/rewards_layer/internal/app/storage"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/google/uuid"
)

const defaultClaimAttempts = 3

// Ledger pays out accrued earnings exactly once per accrual window. The
// baseline advance and the claim event are committed together through
// storage.EvolutionStore.AdvanceClaim, which compares the stored baseline
// against the one the amount was computed from.
type Ledger struct {
	store       storage.EvolutionStore
	maxAttempts int
	log         *logger.Logger
}

// NewLedger constructs a ledger. maxAttempts below one falls back to three.
func NewLedger(store storage.EvolutionStore, maxAttempts int, log *logger.Logger) *Ledger {
	if maxAttempts < 1 {
		maxAttempts = defaultClaimAttempts
	}
	if log == nil {
		log = logger.NewDefault("claim-ledger")
	}
	return &Ledger{store: store, maxAttempts: maxAttempts, log: log}
}

// Claim computes the accrual on record as of asOf and commits it. When
// another claim moved the baseline first, the record is re-read and the
// amount recomputed, up to the configured attempt count. The new baseline
// is the end of the paid window (whole days past the old one), not asOf.
func (l *Ledger) Claim(ctx context.Context, record domain.Record, variant domain.Variant, asOf time.Time) (domain.ClaimEvent, error) {
	for attempt := 1; ; attempt++ {
		amount := AccruedSince(record, variant, asOf)
		if !amount.IsPositive() {
			return domain.ClaimEvent{}, ErrNothingToClaim
		}
		_, periodEnd := AccrualWindow(record, asOf)

		event := domain.ClaimEvent{
			ID:                uuid.NewString(),
			EvolutionRecordID: record.ID,
			AmountClaimed:     amount,
			ClaimedAt:         asOf,
			PeriodStart:       record.LastClaimAt,
			PeriodEnd:         periodEnd,
		}

		stored, err := l.store.AdvanceClaim(ctx, record.ID, record.LastClaimAt, periodEnd, event)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return domain.ClaimEvent{}, fmt.Errorf("commit claim: %w", err)
		}
		if attempt >= l.maxAttempts {
			l.log.WithField("record_id", record.ID).Warnf("claim abandoned after %d conflicting attempts", attempt)
			return domain.ClaimEvent{}, ErrClaimConflict
		}

		metrics.RecordClaimRetry()
		l.log.WithField("record_id", record.ID).Debugf("claim baseline moved, retrying (attempt %d)", attempt)
		record, err = l.store.GetRecord(ctx, record.ID)
		if err != nil {
			return domain.ClaimEvent{}, fmt.Errorf("reload record: %w", err)
		}
	}
}
