package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/rewards_layer/internal/app/services/evolution"
)

// Tables holds the PostgREST table names the stats sources read.
type Tables struct {
	Investments  string
	Stakes       string
	Transactions string
	Referrals    string
}

// DefaultTables matches the platform's public schema.
func DefaultTables() Tables {
	return Tables{
		Investments:  "user_investments",
		Stakes:       "staking_positions",
		Transactions: "transactions",
		Referrals:    "referrals",
	}
}

var (
	_ evolution.InvestmentLedger   = (*StatsSource)(nil)
	_ evolution.StakingLedger      = (*StatsSource)(nil)
	_ evolution.TransactionCounter = (*StatsSource)(nil)
	_ evolution.ReferralLedger     = (*StatsSource)(nil)
)

// StatsSource answers the four activity queries from Supabase.
type StatsSource struct {
	client *Client
	tables Tables
	now    func() time.Time
}

// NewStatsSource wraps client. Empty table names fall back to defaults.
func NewStatsSource(client *Client, tables Tables) *StatsSource {
	def := DefaultTables()
	if tables.Investments == "" {
		tables.Investments = def.Investments
	}
	if tables.Stakes == "" {
		tables.Stakes = def.Stakes
	}
	if tables.Transactions == "" {
		tables.Transactions = def.Transactions
	}
	if tables.Referrals == "" {
		tables.Referrals = def.Referrals
	}
	return &StatsSource{client: client, tables: tables, now: time.Now}
}

// Sources exposes the source as the collector's four collaborators.
func (s *StatsSource) Sources() evolution.StatsSources {
	return evolution.StatsSources{
		Investments:  s,
		Staking:      s,
		Transactions: s,
		Referrals:    s,
	}
}

// TotalInvested sums completed investments.
func (s *StatsSource) TotalInvested(ctx context.Context, userID string) (decimal.Decimal, error) {
	resp, err := s.client.From(s.tables.Investments).
		Select("amount").
		Eq("user_id", userID).
		Eq("status", "completed").
		Execute(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query investments: %w", err)
	}
	return sumAmounts(resp.Body, "amount")
}

// StakingTotals sums active stakes and reports the longest running one in
// whole days.
func (s *StatsSource) StakingTotals(ctx context.Context, userID string) (evolution.StakingTotals, error) {
	resp, err := s.client.From(s.tables.Stakes).
		Select("amount,staked_at").
		Eq("user_id", userID).
		Eq("status", "active").
		Execute(ctx)
	if err != nil {
		return evolution.StakingTotals{}, fmt.Errorf("query stakes: %w", err)
	}
	total, err := sumAmounts(resp.Body, "amount")
	if err != nil {
		return evolution.StakingTotals{}, err
	}

	now := s.now().UTC()
	var maxDays int64
	var parseErr error
	gjson.ParseBytes(resp.Body).ForEach(func(_, row gjson.Result) bool {
		raw := row.Get("staked_at").String()
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			parseErr = fmt.Errorf("parse staked_at %q: %w", raw, err)
			return false
		}
		if days := int64(now.Sub(at) / (24 * time.Hour)); days > maxDays {
			maxDays = days
		}
		return true
	})
	if parseErr != nil {
		return evolution.StakingTotals{}, parseErr
	}
	return evolution.StakingTotals{TotalStaked: total, MaxDaysStaked: maxDays}, nil
}

// CountTransactions counts all of the user's transactions.
func (s *StatsSource) CountTransactions(ctx context.Context, userID string) (int64, error) {
	resp, err := s.client.From(s.tables.Transactions).
		Select("id").
		Eq("user_id", userID).
		Limit(1).
		Count().
		Execute(ctx)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return resp.Total()
}

// CountSuccessfulReferrals counts referrals the user made that completed.
func (s *StatsSource) CountSuccessfulReferrals(ctx context.Context, userID string) (int64, error) {
	resp, err := s.client.From(s.tables.Referrals).
		Select("id").
		Eq("referrer_id", userID).
		Eq("status", "completed").
		Limit(1).
		Count().
		Execute(ctx)
	if err != nil {
		return 0, fmt.Errorf("count referrals: %w", err)
	}
	return resp.Total()
}

// sumAmounts adds field over a JSON array of rows. Amounts may arrive as
// numbers or strings depending on the column type.
func sumAmounts(body []byte, field string) (decimal.Decimal, error) {
	rows := gjson.ParseBytes(body)
	if !rows.IsArray() {
		return decimal.Zero, fmt.Errorf("expected array response, got %s", rows.Type)
	}
	total := decimal.Zero
	var err error
	rows.ForEach(func(_, row gjson.Result) bool {
		var d decimal.Decimal
		d, err = decimal.NewFromString(row.Get(field).String())
		if err != nil {
			err = fmt.Errorf("parse %s %q: %w", field, row.Get(field).Raw, err)
			return false
		}
		total = total.Add(d)
		return true
	})
	return total, err
}
