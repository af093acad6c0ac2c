package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.EvolutionStore = (*Store)(nil)
var _ storage.CatalogStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

const recordColumns = `id, user_id, base_position_id, variant_id, evolved_at,
	recorded_investment, recorded_staking, recorded_days_staked,
	recorded_transactions, recorded_referrals, last_claim_at,
	draw_roll, draw_total_weight`

const claimColumns = `id, evolution_record_id, amount_claimed, claimed_at, period_start, period_end`

// --- EvolutionStore ---------------------------------------------------------

func (s *Store) CreateRecord(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.EvolvedAt = rec.EvolvedAt.UTC()
	if rec.LastClaimAt.IsZero() {
		rec.LastClaimAt = rec.EvolvedAt
	}
	rec.LastClaimAt = rec.LastClaimAt.UTC()

	var id string
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO evolution_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id, base_position_id) DO NOTHING
		RETURNING id
	`, rec.ID, rec.UserID, rec.BasePositionID, rec.VariantID, rec.EvolvedAt,
		rec.RecordedInvestment, rec.RecordedStaking, rec.RecordedDaysStaked,
		rec.RecordedTransactions, rec.RecordedReferrals, rec.LastClaimAt,
		rec.DrawRoll, rec.DrawTotalWeight).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, storage.ErrAlreadyExists
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("insert evolution record: %w", err)
	}
	return rec, nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	var rec domain.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT `+recordColumns+`
		FROM evolution_records
		WHERE id = $1
	`, id)
	return rec, notFound(err)
}

func (s *Store) GetRecordByPosition(ctx context.Context, userID, basePositionID string) (domain.Record, error) {
	var rec domain.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT `+recordColumns+`
		FROM evolution_records
		WHERE user_id = $1 AND base_position_id = $2
	`, userID, basePositionID)
	return rec, notFound(err)
}

func (s *Store) ListRecordsByUser(ctx context.Context, userID string) ([]domain.Record, error) {
	var recs []domain.Record
	if err := s.db.SelectContext(ctx, &recs, `
		SELECT `+recordColumns+`
		FROM evolution_records
		WHERE user_id = $1
		ORDER BY evolved_at
	`, userID); err != nil {
		return nil, err
	}
	return recs, nil
}

// AdvanceClaim runs the baseline compare-and-swap and the claim insert in one
// transaction. A cancelled context rolls both back.
func (s *Store) AdvanceClaim(ctx context.Context, recordID string, expected, next time.Time, event domain.ClaimEvent) (domain.ClaimEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.EvolutionRecordID = recordID
	event.ClaimedAt = event.ClaimedAt.UTC()
	event.PeriodStart = event.PeriodStart.UTC()
	event.PeriodEnd = event.PeriodEnd.UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE evolution_records
		SET last_claim_at = $3
		WHERE id = $1 AND last_claim_at = $2 AND $3 >= last_claim_at
	`, recordID, expected.UTC(), next.UTC())
	if err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("advance baseline: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM evolution_records WHERE id = $1)`, recordID); err != nil {
			return domain.ClaimEvent{}, fmt.Errorf("check record: %w", err)
		}
		if !exists {
			return domain.ClaimEvent{}, fmt.Errorf("record %s: %w", recordID, storage.ErrNotFound)
		}
		return domain.ClaimEvent{}, storage.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO evolution_claims (`+claimColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.ID, event.EvolutionRecordID, event.AmountClaimed, event.ClaimedAt, event.PeriodStart, event.PeriodEnd); err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("insert claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ClaimEvent{}, fmt.Errorf("commit claim: %w", err)
	}
	return event, nil
}

func (s *Store) ListClaimEvents(ctx context.Context, recordID string) ([]domain.ClaimEvent, error) {
	var events []domain.ClaimEvent
	if err := s.db.SelectContext(ctx, &events, `
		SELECT `+claimColumns+`
		FROM evolution_claims
		WHERE evolution_record_id = $1
		ORDER BY claimed_at, id
	`, recordID); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) SumClaimed(ctx context.Context, recordID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(amount_claimed), 0)
		FROM evolution_claims
		WHERE evolution_record_id = $1
	`, recordID)
	return total, err
}

// --- CatalogStore -----------------------------------------------------------

type variantRow struct {
	ID                      string          `db:"id"`
	BasePositionID          string          `db:"base_position_id"`
	Name                    string          `db:"name"`
	Description             string          `db:"description"`
	MediaRef                string          `db:"media_ref"`
	Rarity                  string          `db:"rarity"`
	BonusMultiplier         decimal.Decimal `db:"bonus_multiplier"`
	FixedAnnualEarningRatio decimal.Decimal `db:"fixed_annual_earning_ratio"`
	SpecialAbilities        pq.StringArray  `db:"special_abilities"`
	IsSurprise              bool            `db:"is_surprise"`
}

func (r variantRow) toDomain() (domain.Variant, error) {
	tier, err := domain.ParseRarityTier(r.Rarity)
	if err != nil {
		return domain.Variant{}, fmt.Errorf("variant %s: %w", r.ID, err)
	}
	return domain.Variant{
		ID:                      r.ID,
		BasePositionID:          r.BasePositionID,
		Name:                    r.Name,
		Description:             r.Description,
		MediaRef:                r.MediaRef,
		Rarity:                  tier,
		BonusMultiplier:         r.BonusMultiplier,
		FixedAnnualEarningRatio: r.FixedAnnualEarningRatio,
		SpecialAbilities:        []string(r.SpecialAbilities),
		IsSurprise:              r.IsSurprise,
	}, nil
}

func (s *Store) LoadCatalog(ctx context.Context) (domain.Catalog, error) {
	var cat domain.Catalog
	if err := s.db.SelectContext(ctx, &cat.Criteria, `
		SELECT base_position_id, min_investment, min_staking_amount, min_days_staked,
		       min_transactions, min_referrals, active, created_at
		FROM evolution_criteria
		ORDER BY base_position_id
	`); err != nil {
		return domain.Catalog{}, fmt.Errorf("load criteria: %w", err)
	}

	var rows []variantRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, base_position_id, name, description, media_ref, rarity,
		       bonus_multiplier, fixed_annual_earning_ratio, special_abilities, is_surprise
		FROM evolution_variants
		ORDER BY base_position_id, position, id
	`); err != nil {
		return domain.Catalog{}, fmt.Errorf("load variants: %w", err)
	}
	for _, row := range rows {
		v, err := row.toDomain()
		if err != nil {
			return domain.Catalog{}, err
		}
		cat.Variants = append(cat.Variants, v)
	}
	return cat, nil
}

func (s *Store) UpsertCriteria(ctx context.Context, c domain.Criteria) (domain.Criteria, error) {
	if c.BasePositionID == "" {
		return domain.Criteria{}, fmt.Errorf("criteria base position is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.db.GetContext(ctx, &c.CreatedAt, `
		INSERT INTO evolution_criteria
			(base_position_id, min_investment, min_staking_amount, min_days_staked,
			 min_transactions, min_referrals, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (base_position_id) DO UPDATE SET
			min_investment = EXCLUDED.min_investment,
			min_staking_amount = EXCLUDED.min_staking_amount,
			min_days_staked = EXCLUDED.min_days_staked,
			min_transactions = EXCLUDED.min_transactions,
			min_referrals = EXCLUDED.min_referrals,
			active = EXCLUDED.active
		RETURNING created_at
	`, c.BasePositionID, c.MinInvestment, c.MinStakingAmount, c.MinDaysStaked,
		c.MinTransactions, c.MinReferrals, c.Active, c.CreatedAt)
	if err != nil {
		return domain.Criteria{}, fmt.Errorf("upsert criteria: %w", err)
	}
	return c, nil
}

func (s *Store) UpsertVariant(ctx context.Context, v domain.Variant) (domain.Variant, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	rarity, err := v.Rarity.MarshalText()
	if err != nil {
		return domain.Variant{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evolution_variants
			(id, base_position_id, name, description, media_ref, rarity,
			 bonus_multiplier, fixed_annual_earning_ratio, special_abilities, is_surprise)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			base_position_id = EXCLUDED.base_position_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			media_ref = EXCLUDED.media_ref,
			rarity = EXCLUDED.rarity,
			bonus_multiplier = EXCLUDED.bonus_multiplier,
			fixed_annual_earning_ratio = EXCLUDED.fixed_annual_earning_ratio,
			special_abilities = EXCLUDED.special_abilities,
			is_surprise = EXCLUDED.is_surprise
	`, v.ID, v.BasePositionID, v.Name, v.Description, v.MediaRef, string(rarity),
		v.BonusMultiplier, v.FixedAnnualEarningRatio, pq.StringArray(v.SpecialAbilities), v.IsSurprise)
	if err != nil {
		return domain.Variant{}, fmt.Errorf("upsert variant: %w", err)
	}
	return v, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
