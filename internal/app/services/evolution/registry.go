package evolution

import (
	"context"
	"fmt"
	"sync/atomic"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
)

// CatalogSource loads the full criteria and variant catalog.
type CatalogSource interface {
	LoadCatalog(ctx context.Context) (domain.Catalog, error)
}

// Snapshot is an immutable, validated view of the catalog. Operations take
// one snapshot up front and use it throughout.
type Snapshot struct {
	criteria map[string]domain.Criteria
	variants map[string][]domain.Variant
	byID     map[string]domain.Variant
}

// NewSnapshot validates cat and indexes it. Inactive criteria are kept out
// of lookups; two active criteria for one base position are rejected.
func NewSnapshot(cat domain.Catalog) (*Snapshot, error) {
	s := &Snapshot{
		criteria: make(map[string]domain.Criteria),
		variants: make(map[string][]domain.Variant),
		byID:     make(map[string]domain.Variant, len(cat.Variants)),
	}
	for _, c := range cat.Criteria {
		if c.BasePositionID == "" {
			return nil, fmt.Errorf("criteria without base position id")
		}
		if c.MinInvestment.IsNegative() || c.MinStakingAmount.IsNegative() ||
			c.MinDaysStaked < 0 || c.MinTransactions < 0 || c.MinReferrals < 0 {
			return nil, fmt.Errorf("criteria for %s has negative thresholds", c.BasePositionID)
		}
		if !c.Active {
			continue
		}
		if _, dup := s.criteria[c.BasePositionID]; dup {
			return nil, fmt.Errorf("more than one active criteria for %s", c.BasePositionID)
		}
		s.criteria[c.BasePositionID] = c
	}
	for _, v := range cat.Variants {
		if v.ID == "" || v.BasePositionID == "" {
			return nil, fmt.Errorf("variant %q missing id or base position", v.Name)
		}
		if _, dup := s.byID[v.ID]; dup {
			return nil, fmt.Errorf("duplicate variant id %s", v.ID)
		}
		if v.FixedAnnualEarningRatio.IsNegative() {
			return nil, fmt.Errorf("variant %s has negative earning ratio", v.ID)
		}
		v.SpecialAbilities = append([]string(nil), v.SpecialAbilities...)
		s.byID[v.ID] = v
		s.variants[v.BasePositionID] = append(s.variants[v.BasePositionID], v)
	}
	return s, nil
}

// CriteriaFor returns the active criteria of a base position.
func (s *Snapshot) CriteriaFor(basePositionID string) (domain.Criteria, bool) {
	c, ok := s.criteria[basePositionID]
	return c, ok
}

// VariantsFor returns a copy of the variants registered for a base position,
// in catalog order.
func (s *Snapshot) VariantsFor(basePositionID string) []domain.Variant {
	src := s.variants[basePositionID]
	out := make([]domain.Variant, len(src))
	copy(out, src)
	return out
}

// Variant looks up a catalog entry by id.
func (s *Snapshot) Variant(id string) (domain.Variant, bool) {
	v, ok := s.byID[id]
	return v, ok
}

// Registry publishes the current snapshot. Swaps are atomic; readers never
// observe a partially loaded catalog.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// NewRegistry starts from an empty catalog.
func NewRegistry() *Registry {
	r := &Registry{}
	empty, _ := NewSnapshot(domain.Catalog{})
	r.current.Store(empty)
	return r
}

// Snapshot returns the catalog in effect right now.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Replace validates cat and swaps it in. On error the old snapshot stays.
func (r *Registry) Replace(cat domain.Catalog) error {
	snap, err := NewSnapshot(cat)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

// Load pulls the catalog from src and swaps it in.
func (r *Registry) Load(ctx context.Context, src CatalogSource) error {
	cat, err := src.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	return r.Replace(cat)
}
