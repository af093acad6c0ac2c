package evolution

import (
	"errors"
	"strings"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
)

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrNotEligible          = errors.New("position is not eligible for evolution")
	ErrAlreadyEvolved       = errors.New("position has already evolved")
	ErrNoVariantsConfigured = errors.New("no surprise variants configured for position")
	ErrNoEvolutionRecord    = errors.New("position has not evolved")
	ErrNothingToClaim       = errors.New("nothing to claim")
	ErrClaimConflict        = errors.New("claim baseline changed concurrently")
	ErrVariantNotFound      = errors.New("evolved variant missing from catalog")
)

// NotEligibleError carries the evaluation that caused the rejection so
// callers can show the missing requirements.
type NotEligibleError struct {
	Result domain.EligibilityResult
}

func (e *NotEligibleError) Error() string {
	if len(e.Result.MissingRequirements) == 0 {
		return ErrNotEligible.Error()
	}
	return ErrNotEligible.Error() + ": " + strings.Join(e.Result.MissingRequirements, "; ")
}

// Is lets errors.Is(err, ErrNotEligible) match.
func (e *NotEligibleError) Is(target error) bool {
	return target == ErrNotEligible
}
