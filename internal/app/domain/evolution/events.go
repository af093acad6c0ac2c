package evolution

import (
	"time"

	"github.com/shopspring/decimal"
)

// EvolutionNotice is emitted once a record is committed so the external
// notification service can congratulate the user.
type EvolutionNotice struct {
	RecordID       string     `json:"record_id"`
	UserID         string     `json:"user_id"`
	BasePositionID string     `json:"base_position_id"`
	VariantID      string     `json:"variant_id"`
	VariantName    string     `json:"variant_name"`
	Rarity         RarityTier `json:"rarity"`
	EvolvedAt      time.Time  `json:"evolved_at"`
}

// BalanceCredit instructs the wallet ledger to credit a claimed amount. ID
// equals the claim event id and doubles as the idempotency key.
type BalanceCredit struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	RecordID       string          `json:"record_id"`
	BasePositionID string          `json:"base_position_id"`
	Amount         decimal.Decimal `json:"amount"`
	ClaimedAt      time.Time       `json:"claimed_at"`
}
