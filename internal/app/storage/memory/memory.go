package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu         sync.RWMutex
	records    map[string]domain.Record
	byPosition map[string]string
	claims     map[string][]domain.ClaimEvent
	criteria   map[string]domain.Criteria
	variants   map[string]domain.Variant
	variantSeq []string
}

var (
	_ storage.EvolutionStore = (*Store)(nil)
	_ storage.CatalogStore   = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		records:    make(map[string]domain.Record),
		byPosition: make(map[string]string),
		claims:     make(map[string][]domain.ClaimEvent),
		criteria:   make(map[string]domain.Criteria),
		variants:   make(map[string]domain.Variant),
	}
}

func positionKey(userID, basePositionID string) string {
	return userID + "\x00" + basePositionID
}

// EvolutionStore implementation ----------------------------------------------

func (s *Store) CreateRecord(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return domain.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(rec.UserID, rec.BasePositionID)
	if _, exists := s.byPosition[key]; exists {
		return domain.Record{}, storage.ErrAlreadyExists
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.LastClaimAt.IsZero() {
		rec.LastClaimAt = rec.EvolvedAt
	}
	s.records[rec.ID] = rec
	s.byPosition[key] = rec.ID
	return rec, nil
}

func (s *Store) GetRecord(_ context.Context, id string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, fmt.Errorf("record %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetRecordByPosition(_ context.Context, userID, basePositionID string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPosition[positionKey(userID, basePositionID)]
	if !ok {
		return domain.Record{}, storage.ErrNotFound
	}
	return s.records[id], nil
}

func (s *Store) ListRecordsByUser(_ context.Context, userID string) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Record
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvolvedAt.Before(out[j].EvolvedAt) })
	return out, nil
}

func (s *Store) AdvanceClaim(ctx context.Context, recordID string, expected, next time.Time, event domain.ClaimEvent) (domain.ClaimEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ClaimEvent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return domain.ClaimEvent{}, fmt.Errorf("record %s: %w", recordID, storage.ErrNotFound)
	}
	if !rec.LastClaimAt.Equal(expected) {
		return domain.ClaimEvent{}, storage.ErrConflict
	}
	if next.Before(rec.LastClaimAt) {
		return domain.ClaimEvent{}, fmt.Errorf("baseline cannot move backwards: %w", storage.ErrConflict)
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.EvolutionRecordID = recordID
	rec.LastClaimAt = next
	s.records[recordID] = rec
	s.claims[recordID] = append(s.claims[recordID], event)
	return event, nil
}

func (s *Store) ListClaimEvents(_ context.Context, recordID string) ([]domain.ClaimEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.claims[recordID]
	out := make([]domain.ClaimEvent, len(events))
	copy(out, events)
	return out, nil
}

func (s *Store) SumClaimed(_ context.Context, recordID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, ev := range s.claims[recordID] {
		total = total.Add(ev.AmountClaimed)
	}
	return total, nil
}

// CatalogStore implementation ------------------------------------------------

func (s *Store) LoadCatalog(_ context.Context) (domain.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cat domain.Catalog
	for _, c := range s.criteria {
		cat.Criteria = append(cat.Criteria, c)
	}
	sort.Slice(cat.Criteria, func(i, j int) bool {
		return cat.Criteria[i].BasePositionID < cat.Criteria[j].BasePositionID
	})
	for _, id := range s.variantSeq {
		cat.Variants = append(cat.Variants, cloneVariant(s.variants[id]))
	}
	return cat, nil
}

func (s *Store) UpsertCriteria(_ context.Context, c domain.Criteria) (domain.Criteria, error) {
	if c.BasePositionID == "" {
		return domain.Criteria{}, fmt.Errorf("criteria base position is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.criteria[c.BasePositionID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.criteria[c.BasePositionID] = c
	return c, nil
}

func (s *Store) UpsertVariant(_ context.Context, v domain.Variant) (domain.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if _, ok := s.variants[v.ID]; !ok {
		s.variantSeq = append(s.variantSeq, v.ID)
	}
	s.variants[v.ID] = cloneVariant(v)
	return cloneVariant(v), nil
}

func cloneVariant(v domain.Variant) domain.Variant {
	if v.SpecialAbilities != nil {
		abilities := make([]string, len(v.SpecialAbilities))
		copy(abilities, v.SpecialAbilities)
		v.SpecialAbilities = abilities
	}
	return v
}
