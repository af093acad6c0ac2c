package evolution

import (
	"context"
	"io"
	"sync"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/shopspring/decimal"
)

func quietLogger() *logger.Logger {
	l := logger.NewDefault("evolution-test")
	l.SetOutput(io.Discard)
	return l
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// scriptedSource replays a fixed sequence of rolls.
type scriptedSource struct {
	mu    sync.Mutex
	rolls []int
	next  int
}

func (s *scriptedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rolls[s.next%len(s.rolls)] % n
	s.next++
	return r
}

type staticInvestments struct {
	total decimal.Decimal
	err   error
}

func (s staticInvestments) TotalInvested(context.Context, string) (decimal.Decimal, error) {
	return s.total, s.err
}

type staticStaking struct {
	totals StakingTotals
	err    error
}

func (s staticStaking) StakingTotals(context.Context, string) (StakingTotals, error) {
	return s.totals, s.err
}

type staticCounter struct {
	n   int64
	err error
}

func (s staticCounter) CountTransactions(context.Context, string) (int64, error) {
	return s.n, s.err
}

func (s staticCounter) CountSuccessfulReferrals(context.Context, string) (int64, error) {
	return s.n, s.err
}

// blockingCounter ignores its context and never returns before release.
type blockingCounter struct {
	release chan struct{}
}

func (b blockingCounter) CountTransactions(context.Context, string) (int64, error) {
	<-b.release
	return 99, nil
}

func goldCriteria() domain.Criteria {
	return domain.Criteria{
		BasePositionID:   "gold",
		MinInvestment:    money("500"),
		MinStakingAmount: money("200"),
		MinDaysStaked:    30,
		MinTransactions:  5,
		MinReferrals:     1,
		Active:           true,
	}
}

func goldVariants() []domain.Variant {
	return []domain.Variant{
		{ID: "gold-rare", BasePositionID: "gold", Name: "Gilded", Rarity: domain.RarityRare, FixedAnnualEarningRatio: money("0.10"), IsSurprise: true},
		{ID: "gold-epic", BasePositionID: "gold", Name: "Radiant", Rarity: domain.RarityEpic, FixedAnnualEarningRatio: money("0.12"), IsSurprise: true},
		{ID: "gold-legendary", BasePositionID: "gold", Name: "Sovereign", Rarity: domain.RarityLegendary, FixedAnnualEarningRatio: money("0.15"), IsSurprise: true},
		{ID: "gold-mythic", BasePositionID: "gold", Name: "Phoenix", Rarity: domain.RarityMythic, FixedAnnualEarningRatio: money("0.20"), IsSurprise: true},
	}
}

func qualifyingSources() StatsSources {
	return StatsSources{
		Investments:  staticInvestments{total: money("1000")},
		Staking:      staticStaking{totals: StakingTotals{TotalStaked: money("250"), MaxDaysStaked: 45}},
		Transactions: staticCounter{n: 12},
		Referrals:    staticCounter{n: 2},
	}
}

// recordingNotifier captures engine events.
type recordingNotifier struct {
	mu      sync.Mutex
	evolved []domain.EvolutionNotice
	credits []domain.BalanceCredit
}

func (n *recordingNotifier) EvolutionCompleted(_ context.Context, notice domain.EvolutionNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.evolved = append(n.evolved, notice)
}

func (n *recordingNotifier) EarningsClaimed(_ context.Context, credit domain.BalanceCredit) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.credits = append(n.credits, credit)
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
