package evolution

import (
	"fmt"
	"math"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate compares stats against criteria. It is pure and safe for
// concurrent use. A nil or inactive criteria yields a not-eligible result
// with a single missing requirement naming the absence. Dimensions whose
// source failed are unmet regardless of the requirement.
func Evaluate(stats domain.Stats, criteria *domain.Criteria) domain.EligibilityResult {
	result := domain.EligibilityResult{
		State:               domain.StateNotEligible,
		MissingRequirements: []string{},
		Dimensions:          []domain.DimensionResult{},
	}
	if criteria == nil || !criteria.Active {
		result.MissingRequirements = append(result.MissingRequirements, "no active evolution criteria for this position")
		return result
	}
	result.BasePositionID = criteria.BasePositionID

	eligible := true
	var progressSum float64
	for _, dim := range domain.Dimensions() {
		dr := evaluateDimension(dim, stats, criteria.Required(dim))
		result.Dimensions = append(result.Dimensions, dr)
		progressSum += dr.Progress
		if !dr.Met {
			eligible = false
			result.MissingRequirements = append(result.MissingRequirements, missingMessage(dr))
		}
	}

	result.Eligible = eligible
	result.Progress = int(math.Round(progressSum / float64(len(result.Dimensions))))
	if eligible {
		result.State = domain.StateEligible
	}
	return result
}

func evaluateDimension(dim domain.Dimension, stats domain.Stats, required decimal.Decimal) domain.DimensionResult {
	dr := domain.DimensionResult{Dimension: dim, Required: required}
	actual, known := stats.Actual(dim)
	dr.Actual = actual

	// An unknown value is never met, not even against a zero requirement:
	// the record persists every observed value at evolution time.
	if !known {
		dr.Unknown = true
		dr.Note = stats.Unavailable[dim]
		if dr.Note == "" {
			dr.Note = "source unavailable"
		}
		return dr
	}
	if !required.IsPositive() {
		dr.Met = true
		dr.Progress = 100
		return dr
	}

	dr.Met = actual.GreaterThanOrEqual(required)
	if dr.Met {
		dr.Progress = 100
		return dr
	}
	pct := actual.Div(required).Mul(hundred)
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	dr.Progress, _ = pct.Float64()
	return dr
}

func missingMessage(dr domain.DimensionResult) string {
	if dr.Unknown {
		return fmt.Sprintf("%s: data unavailable (%s)", dr.Dimension, dr.Note)
	}
	shortfall := dr.Required.Sub(dr.Actual)
	if dr.Dimension.Monetary() {
		return fmt.Sprintf("%s: need %s more", dr.Dimension, shortfall.RoundCeil(2).StringFixed(2))
	}
	return fmt.Sprintf("%s: need %s more", dr.Dimension, shortfall.Ceil().String())
}
