// Package evolution holds the data model of the reward evolution engine:
// criteria, surprise variants, evolution records and the claim audit trail.
package evolution

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dimension names one axis of the eligibility check.
type Dimension string

const (
	DimensionInvestment    Dimension = "investment"
	DimensionStakingAmount Dimension = "staking_amount"
	DimensionDaysStaked    Dimension = "days_staked"
	DimensionTransactions  Dimension = "transactions"
	DimensionReferrals     Dimension = "referrals"
)

// Dimensions returns the evaluation order used for results and messages.
func Dimensions() []Dimension {
	return []Dimension{
		DimensionInvestment,
		DimensionStakingAmount,
		DimensionDaysStaked,
		DimensionTransactions,
		DimensionReferrals,
	}
}

// Monetary reports whether values on this dimension are money amounts.
func (d Dimension) Monetary() bool {
	return d == DimensionInvestment || d == DimensionStakingAmount
}

// State is the lifecycle of a (user, base position) pair.
type State string

const (
	StateNotEligible State = "not_eligible"
	StateEligible    State = "eligible"
	StateEvolved     State = "evolved"
)

// Criteria is the published threshold set for one base position.
type Criteria struct {
	BasePositionID   string          `json:"base_position_id" yaml:"base_position_id" db:"base_position_id"`
	MinInvestment    decimal.Decimal `json:"min_investment" yaml:"min_investment" db:"min_investment"`
	MinStakingAmount decimal.Decimal `json:"min_staking_amount" yaml:"min_staking_amount" db:"min_staking_amount"`
	MinDaysStaked    int64           `json:"min_days_staked" yaml:"min_days_staked" db:"min_days_staked"`
	MinTransactions  int64           `json:"min_transactions" yaml:"min_transactions" db:"min_transactions"`
	MinReferrals     int64           `json:"min_referrals" yaml:"min_referrals" db:"min_referrals"`
	Active           bool            `json:"active" yaml:"active" db:"active"`
	CreatedAt        time.Time       `json:"created_at" yaml:"-" db:"created_at"`
}

// Required returns the threshold for a dimension.
func (c Criteria) Required(d Dimension) decimal.Decimal {
	switch d {
	case DimensionInvestment:
		return c.MinInvestment
	case DimensionStakingAmount:
		return c.MinStakingAmount
	case DimensionDaysStaked:
		return decimal.NewFromInt(c.MinDaysStaked)
	case DimensionTransactions:
		return decimal.NewFromInt(c.MinTransactions)
	case DimensionReferrals:
		return decimal.NewFromInt(c.MinReferrals)
	}
	return decimal.Zero
}

// Stats is a point-in-time aggregate of a user's activity, assembled from
// the external ledgers for a single evaluation. It is never persisted.
type Stats struct {
	TotalInvested       decimal.Decimal `json:"total_invested"`
	TotalStaked         decimal.Decimal `json:"total_staked"`
	MaxDaysStaked       int64           `json:"max_days_staked"`
	TotalTransactions   int64           `json:"total_transactions"`
	SuccessfulReferrals int64           `json:"successful_referrals"`

	// Unavailable maps a dimension whose source failed to a diagnostic note.
	Unavailable map[Dimension]string `json:"unavailable,omitempty"`
}

// Actual returns the observed value for a dimension and whether it is known.
func (s Stats) Actual(d Dimension) (decimal.Decimal, bool) {
	if _, missing := s.Unavailable[d]; missing {
		return decimal.Zero, false
	}
	switch d {
	case DimensionInvestment:
		return s.TotalInvested, true
	case DimensionStakingAmount:
		return s.TotalStaked, true
	case DimensionDaysStaked:
		return decimal.NewFromInt(s.MaxDaysStaked), true
	case DimensionTransactions:
		return decimal.NewFromInt(s.TotalTransactions), true
	case DimensionReferrals:
		return decimal.NewFromInt(s.SuccessfulReferrals), true
	}
	return decimal.Zero, false
}

// MarkUnavailable records that a dimension could not be read.
func (s *Stats) MarkUnavailable(d Dimension, note string) {
	if s.Unavailable == nil {
		s.Unavailable = make(map[Dimension]string)
	}
	s.Unavailable[d] = note
}

// Variant is an immutable catalog entry a base position may evolve into.
type Variant struct {
	ID                      string          `json:"id" yaml:"id" db:"id"`
	BasePositionID          string          `json:"base_position_id" yaml:"base_position_id" db:"base_position_id"`
	Name                    string          `json:"name" yaml:"name" db:"name"`
	Description             string          `json:"description,omitempty" yaml:"description" db:"description"`
	MediaRef                string          `json:"media_ref,omitempty" yaml:"media_ref" db:"media_ref"`
	Rarity                  RarityTier      `json:"rarity" yaml:"rarity" db:"rarity"`
	BonusMultiplier         decimal.Decimal `json:"bonus_multiplier" yaml:"bonus_multiplier" db:"bonus_multiplier"`
	FixedAnnualEarningRatio decimal.Decimal `json:"fixed_annual_earning_ratio" yaml:"fixed_annual_earning_ratio" db:"fixed_annual_earning_ratio"`
	SpecialAbilities        []string        `json:"special_abilities,omitempty" yaml:"special_abilities" db:"special_abilities"`
	IsSurprise              bool            `json:"is_surprise" yaml:"is_surprise" db:"is_surprise"`
}

// Record is the outcome of a successful evolution. Only LastClaimAt ever
// changes after creation.
type Record struct {
	ID                   string          `json:"id" db:"id"`
	UserID               string          `json:"user_id" db:"user_id"`
	BasePositionID       string          `json:"base_position_id" db:"base_position_id"`
	VariantID            string          `json:"variant_id" db:"variant_id"`
	EvolvedAt            time.Time       `json:"evolved_at" db:"evolved_at"`
	RecordedInvestment   decimal.Decimal `json:"recorded_investment" db:"recorded_investment"`
	RecordedStaking      decimal.Decimal `json:"recorded_staking" db:"recorded_staking"`
	RecordedDaysStaked   int64           `json:"recorded_days_staked" db:"recorded_days_staked"`
	RecordedTransactions int64           `json:"recorded_transactions" db:"recorded_transactions"`
	RecordedReferrals    int64           `json:"recorded_referrals" db:"recorded_referrals"`
	LastClaimAt          time.Time       `json:"last_claim_at" db:"last_claim_at"`

	// Lottery audit trail: the roll drawn and the total weight it was drawn from.
	DrawRoll        int `json:"draw_roll" db:"draw_roll"`
	DrawTotalWeight int `json:"draw_total_weight" db:"draw_total_weight"`
}

// ClaimEvent is an append-only entry recording one payout.
type ClaimEvent struct {
	ID                string          `json:"id" db:"id"`
	EvolutionRecordID string          `json:"evolution_record_id" db:"evolution_record_id"`
	AmountClaimed     decimal.Decimal `json:"amount_claimed" db:"amount_claimed"`
	ClaimedAt         time.Time       `json:"claimed_at" db:"claimed_at"`
	PeriodStart       time.Time       `json:"period_start" db:"period_start"`
	PeriodEnd         time.Time       `json:"period_end" db:"period_end"`
}

// DimensionResult is the outcome of one eligibility axis.
type DimensionResult struct {
	Dimension Dimension       `json:"dimension"`
	Required  decimal.Decimal `json:"required"`
	Actual    decimal.Decimal `json:"actual"`
	Met       bool            `json:"met"`
	Progress  float64         `json:"progress"`
	Unknown   bool            `json:"unknown,omitempty"`
	Note      string          `json:"note,omitempty"`
}

// EligibilityResult summarises a full evaluation.
type EligibilityResult struct {
	UserID              string            `json:"user_id"`
	BasePositionID      string            `json:"base_position_id"`
	Eligible            bool              `json:"eligible"`
	Progress            int               `json:"progress"`
	Dimensions          []DimensionResult `json:"dimensions"`
	MissingRequirements []string          `json:"missing_requirements"`
	State               State             `json:"state"`
}

// Catalog is the complete configuration the registry is built from.
type Catalog struct {
	Criteria []Criteria `json:"criteria" yaml:"criteria"`
	Variants []Variant  `json:"variants" yaml:"variants"`
}
