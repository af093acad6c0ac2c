package evolution

import (
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

var daysPerYear = decimal.NewFromInt(365)

// AccrualWindow returns the whole days accrued since the record's baseline
// and the instant those days end. days is zero when asOf is not at least a
// full day past LastClaimAt.
func AccrualWindow(record domain.Record, asOf time.Time) (days int64, end time.Time) {
	elapsed := asOf.Sub(record.LastClaimAt)
	if elapsed < day {
		return 0, record.LastClaimAt
	}
	days = int64(elapsed / day)
	return days, record.LastClaimAt.Add(time.Duration(days) * day)
}

// DailyRate is recordedInvestment * ratio / 365, unrounded.
func DailyRate(record domain.Record, variant domain.Variant) decimal.Decimal {
	return record.RecordedInvestment.Mul(variant.FixedAnnualEarningRatio).Div(daysPerYear)
}

// AccruedSince returns the unclaimed earnings for whole days elapsed between
// the record's baseline and asOf, rounded half-up to cents. Rounding is taken
// on the cumulative accrual from EvolvedAt so that consecutive claims sum to
// exactly the accrual of their combined span.
func AccruedSince(record domain.Record, variant domain.Variant, asOf time.Time) decimal.Decimal {
	days, _ := AccrualWindow(record, asOf)
	if days <= 0 {
		return decimal.Zero
	}
	rate := DailyRate(record, variant)
	if !rate.IsPositive() {
		return decimal.Zero
	}

	paidDays := decimal.NewFromInt(int64(record.LastClaimAt.Sub(record.EvolvedAt) / day))
	if paidDays.IsNegative() {
		paidDays = decimal.Zero
	}
	before := rate.Mul(paidDays).Round(2)
	after := rate.Mul(paidDays.Add(decimal.NewFromInt(days))).Round(2)
	return after.Sub(before)
}

// CumulativeAccrual is the total earned from EvolvedAt to asOf, ignoring
// claims.
func CumulativeAccrual(record domain.Record, variant domain.Variant, asOf time.Time) decimal.Decimal {
	fresh := record
	fresh.LastClaimAt = record.EvolvedAt
	return AccruedSince(fresh, variant, asOf)
}
