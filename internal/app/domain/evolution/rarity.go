package evolution

import (
	"fmt"
	"strings"
)

// RarityTier classifies a surprise variant. The set of tiers is closed; the
// lottery weights for each tier live with the selector.
type RarityTier uint8

const (
	RarityUnspecified RarityTier = iota
	RarityRare
	RarityEpic
	RarityLegendary
	RarityMythic
)

var rarityNames = map[RarityTier]string{
	RarityRare:      "rare",
	RarityEpic:      "epic",
	RarityLegendary: "legendary",
	RarityMythic:    "mythic",
}

// RarityTiers lists every known tier from most to least common.
func RarityTiers() []RarityTier {
	return []RarityTier{RarityRare, RarityEpic, RarityLegendary, RarityMythic}
}

// String returns the lower-case tier name.
func (r RarityTier) String() string {
	if name, ok := rarityNames[r]; ok {
		return name
	}
	return "unspecified"
}

// Valid reports whether r is one of the published tiers.
func (r RarityTier) Valid() bool {
	_, ok := rarityNames[r]
	return ok
}

// ParseRarityTier converts a tier name (case-insensitive) to its enum value.
func ParseRarityTier(raw string) (RarityTier, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	for tier, n := range rarityNames {
		if n == name {
			return tier, nil
		}
	}
	return RarityUnspecified, fmt.Errorf("unknown rarity tier %q", raw)
}

// MarshalText implements encoding.TextMarshaler.
func (r RarityTier) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal rarity tier %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RarityTier) UnmarshalText(text []byte) error {
	tier, err := ParseRarityTier(string(text))
	if err != nil {
		return err
	}
	*r = tier
	return nil
}
