package storage

import (
	"context"
	"errors"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists is returned by insert-if-absent operations that lost.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrConflict is returned when a compare-and-swap precondition no longer holds.
	ErrConflict = errors.New("storage: conflict")
)

// EvolutionStore persists evolution records and their claim history.
type EvolutionStore interface {
	// CreateRecord inserts rec unless a record for the same user and base
	// position exists, in which case ErrAlreadyExists is returned.
	CreateRecord(ctx context.Context, rec domain.Record) (domain.Record, error)
	GetRecord(ctx context.Context, id string) (domain.Record, error)
	GetRecordByPosition(ctx context.Context, userID, basePositionID string) (domain.Record, error)
	ListRecordsByUser(ctx context.Context, userID string) ([]domain.Record, error)

	// AdvanceClaim moves the record's LastClaimAt from expected to next and
	// appends event as one atomic step. ErrConflict means the stored
	// baseline no longer equals expected and nothing was written.
	AdvanceClaim(ctx context.Context, recordID string, expected, next time.Time, event domain.ClaimEvent) (domain.ClaimEvent, error)
	ListClaimEvents(ctx context.Context, recordID string) ([]domain.ClaimEvent, error)
	SumClaimed(ctx context.Context, recordID string) (decimal.Decimal, error)
}

// CatalogStore persists the evolution criteria and variant catalog.
type CatalogStore interface {
	LoadCatalog(ctx context.Context) (domain.Catalog, error)
	UpsertCriteria(ctx context.Context, c domain.Criteria) (domain.Criteria, error)
	UpsertVariant(ctx context.Context, v domain.Variant) (domain.Variant, error)
}
