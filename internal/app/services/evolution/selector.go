package evolution

import (
	"fmt"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
)

// rarityWeights are the fixed lottery odds per tier; they sum to 100.
var rarityWeights = map[domain.RarityTier]int{
	domain.RarityMythic:    1,
	domain.RarityLegendary: 4,
	domain.RarityEpic:      15,
	domain.RarityRare:      80,
}

// RarityWeight returns the lottery weight of a tier. Tiers outside the
// table weigh 1.
func RarityWeight(tier domain.RarityTier) int {
	if w, ok := rarityWeights[tier]; ok {
		return w
	}
	return 1
}

// Draw is the outcome of one weighted lottery.
type Draw struct {
	Variant     domain.Variant
	Roll        int
	TotalWeight int
}

// Select performs a single cumulative-weight draw among the surprise variants
// of basePositionID. Variants keep their listed order; the first whose
// cumulative weight strictly exceeds the roll wins.
func Select(basePositionID string, variants []domain.Variant, rng RandomSource) (Draw, error) {
	candidates := make([]domain.Variant, 0, len(variants))
	total := 0
	for _, v := range variants {
		if !v.IsSurprise || v.BasePositionID != basePositionID {
			continue
		}
		candidates = append(candidates, v)
		total += RarityWeight(v.Rarity)
	}
	if len(candidates) == 0 {
		return Draw{}, fmt.Errorf("%w: %s", ErrNoVariantsConfigured, basePositionID)
	}

	roll := rng.IntN(total)
	if roll < 0 || roll >= total {
		return Draw{}, fmt.Errorf("random source returned %d outside [0,%d)", roll, total)
	}

	cumulative := 0
	for _, v := range candidates {
		cumulative += RarityWeight(v.Rarity)
		if cumulative > roll {
			return Draw{Variant: v, Roll: roll, TotalWeight: total}, nil
		}
	}
	// Unreachable: roll < total == final cumulative.
	return Draw{}, fmt.Errorf("weighted draw fell through with roll %d of %d", roll, total)
}
