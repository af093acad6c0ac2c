package evolution

import (
	"errors"
	"math"
	"testing"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
)

func TestSelectWalksCumulativeWeights(t *testing.T) {
	variants := goldVariants() // rare 80, epic 15, legendary 4, mythic 1

	tests := []struct {
		roll int
		want string
	}{
		{0, "gold-rare"},
		{79, "gold-rare"},
		{80, "gold-epic"},
		{94, "gold-epic"},
		{95, "gold-legendary"},
		{98, "gold-legendary"},
		{99, "gold-mythic"},
	}
	for _, tc := range tests {
		draw, err := Select("gold", variants, &scriptedSource{rolls: []int{tc.roll}})
		if err != nil {
			t.Fatalf("roll %d: %v", tc.roll, err)
		}
		if draw.Variant.ID != tc.want {
			t.Errorf("roll %d selected %s, want %s", tc.roll, draw.Variant.ID, tc.want)
		}
		if draw.Roll != tc.roll || draw.TotalWeight != 100 {
			t.Errorf("unexpected audit values %d/%d", draw.Roll, draw.TotalWeight)
		}
	}
}

func TestSelectFiltersSurpriseAndPosition(t *testing.T) {
	variants := append(goldVariants(),
		domain.Variant{ID: "gold-standard", BasePositionID: "gold", Rarity: domain.RarityMythic, IsSurprise: false},
		domain.Variant{ID: "silver-rare", BasePositionID: "silver", Rarity: domain.RarityRare, IsSurprise: true},
	)
	draw, err := Select("silver", variants, NewSeededSource(1))
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if draw.Variant.ID != "silver-rare" || draw.TotalWeight != 80 {
		t.Fatalf("unexpected draw %+v", draw)
	}
}

func TestSelectNoVariantsConfigured(t *testing.T) {
	variants := []domain.Variant{{ID: "plain", BasePositionID: "gold", Rarity: domain.RarityRare}}
	_, err := Select("gold", variants, NewSeededSource(1))
	if !errors.Is(err, ErrNoVariantsConfigured) {
		t.Fatalf("expected ErrNoVariantsConfigured, got %v", err)
	}
	_, err = Select("platinum", goldVariants(), NewSeededSource(1))
	if !errors.Is(err, ErrNoVariantsConfigured) {
		t.Fatalf("expected ErrNoVariantsConfigured for unknown position, got %v", err)
	}
}

func TestSelectUnknownTierWeighsOne(t *testing.T) {
	variants := []domain.Variant{
		{ID: "odd", BasePositionID: "gold", Rarity: domain.RarityUnspecified, IsSurprise: true},
		{ID: "rare", BasePositionID: "gold", Rarity: domain.RarityRare, IsSurprise: true},
	}
	draw, err := Select("gold", variants, &scriptedSource{rolls: []int{0}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if draw.TotalWeight != 81 || draw.Variant.ID != "odd" {
		t.Fatalf("unexpected draw %+v", draw)
	}
	draw, _ = Select("gold", variants, &scriptedSource{rolls: []int{1}})
	if draw.Variant.ID != "rare" {
		t.Fatalf("roll 1 should land on rare, got %s", draw.Variant.ID)
	}
}

func TestSelectDeterministicForSeed(t *testing.T) {
	run := func() []string {
		src := NewSeededSource(42)
		var ids []string
		for i := 0; i < 50; i++ {
			draw, err := Select("gold", goldVariants(), src)
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			ids = append(ids, draw.Variant.ID)
		}
		return ids
	}
	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("draw %d differs: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestSelectDistributionMatchesWeights(t *testing.T) {
	if testing.Short() {
		t.Skip("distribution check skipped in short mode")
	}
	const draws = 200_000
	src := NewSeededSource(20240601)
	variants := goldVariants()
	counts := make(map[domain.RarityTier]int)
	for i := 0; i < draws; i++ {
		draw, err := Select("gold", variants, src)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[draw.Variant.Rarity]++
	}

	for _, tier := range domain.RarityTiers() {
		observed := float64(counts[tier]) / draws * 100
		expected := float64(RarityWeight(tier))
		if math.Abs(observed-expected) > 2 {
			t.Errorf("%s: observed %.2f%%, expected %.0f%% ±2", tier, observed, expected)
		}
	}
}

func TestCryptoSourceInRange(t *testing.T) {
	src := NewCryptoSource()
	for i := 0; i < 1000; i++ {
		if v := src.IntN(100); v < 0 || v >= 100 {
			t.Fatalf("value %d out of range", v)
		}
	}
}
