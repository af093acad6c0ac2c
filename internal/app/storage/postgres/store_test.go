package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/storage"
	"github.com/R3E-Network/rewards_layer/internal/platform/migrations"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestCreateRecordInsertIfAbsent(t *testing.T) {
	store, mock := newMockStore(t)
	rec := domain.Record{
		ID: "rec-1", UserID: "u1", BasePositionID: "gold", VariantID: "gold-rare",
		EvolvedAt: t0, RecordedInvestment: decimal.NewFromInt(1000), DrawRoll: 12, DrawTotalWeight: 100,
	}

	insert := regexp.QuoteMeta("ON CONFLICT (user_id, base_position_id) DO NOTHING")
	mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("rec-1"))
	mock.ExpectQuery(insert).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	created, err := store.CreateRecord(context.Background(), rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.LastClaimAt.Equal(t0) {
		t.Fatalf("baseline should default to evolvedAt, got %s", created.LastClaimAt)
	}

	_, err = store.CreateRecord(context.Background(), rec)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetRecordByPositionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM evolution_records").
		WithArgs("u1", "gold").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRecordByPosition(context.Background(), "u1", "gold")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetRecordScansColumns(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "user_id", "base_position_id", "variant_id", "evolved_at",
		"recorded_investment", "recorded_staking", "recorded_days_staked",
		"recorded_transactions", "recorded_referrals", "last_claim_at",
		"draw_roll", "draw_total_weight"}
	mock.ExpectQuery("FROM evolution_records").
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"rec-1", "u1", "gold", "gold-rare", t0,
			"1000.00", "250.00", 45, 12, 2, t0.Add(72*time.Hour), 57, 100))

	rec, err := store.GetRecord(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.RecordedInvestment.Equal(decimal.NewFromInt(1000)) || rec.RecordedReferrals != 2 || rec.DrawRoll != 57 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.LastClaimAt.Equal(t0.Add(72 * time.Hour)) {
		t.Fatalf("unexpected baseline %s", rec.LastClaimAt)
	}
}

func TestAdvanceClaimCommitsBaselineAndEvent(t *testing.T) {
	store, mock := newMockStore(t)
	next := t0.Add(240 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE evolution_records").
		WithArgs("rec-1", t0, next).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO evolution_claims").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ev, err := store.AdvanceClaim(context.Background(), "rec-1", t0, next, domain.ClaimEvent{
		AmountClaimed: decimal.RequireFromString("2.74"),
		ClaimedAt:     next,
		PeriodStart:   t0,
		PeriodEnd:     next,
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := uuid.Parse(ev.ID); err != nil {
		t.Fatalf("expected generated uuid, got %q", ev.ID)
	}
	if ev.EvolutionRecordID != "rec-1" {
		t.Fatalf("record id not set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdvanceClaimConflictRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	next := t0.Add(24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE evolution_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := store.AdvanceClaim(context.Background(), "rec-1", t0, next, domain.ClaimEvent{AmountClaimed: decimal.NewFromInt(1)})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdvanceClaimMissingRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE evolution_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := store.AdvanceClaim(context.Background(), "missing", t0, t0.Add(time.Hour), domain.ClaimEvent{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdvanceClaimInsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE evolution_records").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO evolution_claims").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := store.AdvanceClaim(context.Background(), "rec-1", t0, t0.Add(24*time.Hour), domain.ClaimEvent{}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("baseline advance must be rolled back: %v", err)
	}
}

func TestSumClaimed(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(SUM(amount_claimed), 0)")).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("5.48"))

	total, err := store.SumClaimed(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("5.48")) {
		t.Fatalf("unexpected total %s", total)
	}
}

func TestLoadCatalog(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM evolution_criteria").WillReturnRows(
		sqlmock.NewRows([]string{"base_position_id", "min_investment", "min_staking_amount", "min_days_staked",
			"min_transactions", "min_referrals", "active", "created_at"}).
			AddRow("gold", "500", "200", 30, 5, 1, true, t0))
	mock.ExpectQuery("FROM evolution_variants").WillReturnRows(
		sqlmock.NewRows([]string{"id", "base_position_id", "name", "description", "media_ref", "rarity",
			"bonus_multiplier", "fixed_annual_earning_ratio", "special_abilities", "is_surprise"}).
			AddRow("gold-mythic", "gold", "Phoenix", "", "", "mythic", "2", "0.2", "{double_xp,vip}", true))

	cat, err := store.LoadCatalog(context.Background())
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	if len(cat.Criteria) != 1 || cat.Criteria[0].MinReferrals != 1 || !cat.Criteria[0].Active {
		t.Fatalf("unexpected criteria %+v", cat.Criteria)
	}
	if len(cat.Variants) != 1 {
		t.Fatalf("unexpected variants %+v", cat.Variants)
	}
	v := cat.Variants[0]
	if v.Rarity != domain.RarityMythic || len(v.SpecialAbilities) != 2 || !v.IsSurprise {
		t.Fatalf("unexpected variant %+v", v)
	}
}

func TestLoadCatalogRejectsUnknownRarity(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM evolution_criteria").WillReturnRows(
		sqlmock.NewRows([]string{"base_position_id"}))
	mock.ExpectQuery("FROM evolution_variants").WillReturnRows(
		sqlmock.NewRows([]string{"id", "base_position_id", "name", "description", "media_ref", "rarity",
			"bonus_multiplier", "fixed_annual_earning_ratio", "special_abilities", "is_surprise"}).
			AddRow("odd", "gold", "Odd", "", "", "cosmic", "1", "0.1", "{}", true))

	if _, err := store.LoadCatalog(context.Background()); err == nil {
		t.Fatalf("expected unknown rarity error")
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := New(db)

	base := "it-" + uuid.NewString()
	if _, err := store.UpsertCriteria(ctx, domain.Criteria{BasePositionID: base, MinReferrals: 1, Active: true}); err != nil {
		t.Fatalf("upsert criteria: %v", err)
	}
	variant, err := store.UpsertVariant(ctx, domain.Variant{
		BasePositionID: base, Name: "Gilded", Rarity: domain.RarityRare,
		FixedAnnualEarningRatio: decimal.RequireFromString("0.10"), IsSurprise: true,
	})
	if err != nil {
		t.Fatalf("upsert variant: %v", err)
	}

	evolvedAt := time.Now().UTC().Truncate(time.Microsecond)
	rec, err := store.CreateRecord(ctx, domain.Record{
		UserID: "it-user", BasePositionID: base, VariantID: variant.ID,
		EvolvedAt: evolvedAt, RecordedInvestment: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if _, err := store.CreateRecord(ctx, domain.Record{UserID: "it-user", BasePositionID: base, VariantID: variant.ID, EvolvedAt: evolvedAt}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	next := evolvedAt.Add(240 * time.Hour)
	if _, err := store.AdvanceClaim(ctx, rec.ID, evolvedAt, next, domain.ClaimEvent{
		AmountClaimed: decimal.RequireFromString("2.74"), ClaimedAt: next, PeriodStart: evolvedAt, PeriodEnd: next,
	}); err != nil {
		t.Fatalf("advance claim: %v", err)
	}
	if _, err := store.AdvanceClaim(ctx, rec.ID, evolvedAt, next, domain.ClaimEvent{
		AmountClaimed: decimal.RequireFromString("2.74"), ClaimedAt: next, PeriodStart: evolvedAt, PeriodEnd: next,
	}); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale baseline, got %v", err)
	}
	total, err := store.SumClaimed(ctx, rec.ID)
	if err != nil || !total.Equal(decimal.RequireFromString("2.74")) {
		t.Fatalf("sum claimed %s %v", total, err)
	}
}
