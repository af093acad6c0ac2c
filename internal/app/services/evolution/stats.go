package evolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/metrics"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const defaultStatsTimeout = 3 * time.Second

// InvestmentLedger reports the total a user has invested.
type InvestmentLedger interface {
	TotalInvested(ctx context.Context, userID string) (decimal.Decimal, error)
}

// StakingTotals is the staking ledger's aggregate for one user.
type StakingTotals struct {
	TotalStaked   decimal.Decimal
	MaxDaysStaked int64
}

// StakingLedger reports staking totals.
type StakingLedger interface {
	StakingTotals(ctx context.Context, userID string) (StakingTotals, error)
}

// TransactionCounter reports how many transactions a user has made.
type TransactionCounter interface {
	CountTransactions(ctx context.Context, userID string) (int64, error)
}

// ReferralLedger reports completed referrals.
type ReferralLedger interface {
	CountSuccessfulReferrals(ctx context.Context, userID string) (int64, error)
}

// StatsSources groups the four collaborators. Any of them may be nil, in
// which case its dimensions are reported as unavailable.
type StatsSources struct {
	Investments  InvestmentLedger
	Staking      StakingLedger
	Transactions TransactionCounter
	Referrals    ReferralLedger
}

// StatsCollector queries all sources concurrently under one deadline.
type StatsCollector struct {
	sources StatsSources
	timeout time.Duration
	log     *logger.Logger
}

// NewStatsCollector builds a collector. timeout <= 0 uses three seconds.
func NewStatsCollector(sources StatsSources, timeout time.Duration, log *logger.Logger) *StatsCollector {
	if timeout <= 0 {
		timeout = defaultStatsTimeout
	}
	if log == nil {
		log = logger.NewDefault("stats-collector")
	}
	return &StatsCollector{sources: sources, timeout: timeout, log: log}
}

var errSourceNotConfigured = errors.New("source not configured")

// Collect never fails: a source that errors, panics or misses the deadline
// marks its dimensions unavailable and the rest of the aggregate is still returned.
func (c *StatsCollector) Collect(ctx context.Context, userID string) domain.Stats {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	agg := &aggregate{pending: make(map[string][]domain.Dimension)}

	// Every goroutine returns nil; failures degrade single dimensions only.
	g, gctx := errgroup.WithContext(ctx)
	run := func(source string, dims []domain.Dimension, configured bool, query func(context.Context) (func(*domain.Stats), error)) {
		agg.track(source, dims)
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					c.fail(agg, userID, source, fmt.Errorf("panic: %v", r))
				}
			}()
			if !configured {
				c.fail(agg, userID, source, errSourceNotConfigured)
				return nil
			}
			apply, err := query(gctx)
			if err != nil {
				c.fail(agg, userID, source, err)
				return nil
			}
			agg.finish(source, apply)
			return nil
		})
	}

	src := c.sources
	run("investments", []domain.Dimension{domain.DimensionInvestment}, src.Investments != nil,
		func(ctx context.Context) (func(*domain.Stats), error) {
			total, err := src.Investments.TotalInvested(ctx, userID)
			return func(s *domain.Stats) { s.TotalInvested = total }, err
		})
	run("staking", []domain.Dimension{domain.DimensionStakingAmount, domain.DimensionDaysStaked}, src.Staking != nil,
		func(ctx context.Context) (func(*domain.Stats), error) {
			totals, err := src.Staking.StakingTotals(ctx, userID)
			return func(s *domain.Stats) {
				s.TotalStaked = totals.TotalStaked
				s.MaxDaysStaked = totals.MaxDaysStaked
			}, err
		})
	run("transactions", []domain.Dimension{domain.DimensionTransactions}, src.Transactions != nil,
		func(ctx context.Context) (func(*domain.Stats), error) {
			n, err := src.Transactions.CountTransactions(ctx, userID)
			return func(s *domain.Stats) { s.TotalTransactions = n }, err
		})
	run("referrals", []domain.Dimension{domain.DimensionReferrals}, src.Referrals != nil,
		func(ctx context.Context) (func(*domain.Stats), error) {
			n, err := src.Referrals.CountSuccessfulReferrals(ctx, userID)
			return func(s *domain.Stats) { s.SuccessfulReferrals = n }, err
		})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	stats, late := agg.seal()
	for _, source := range late {
		metrics.RecordStatsSourceFailure(source)
		c.log.WithField("user_id", userID).WithField("source", source).Warn("stats source missed deadline")
	}
	metrics.RecordStatsCollection(time.Since(start))
	return stats
}

func (c *StatsCollector) fail(agg *aggregate, userID, source string, err error) {
	if agg.fail(source, fmt.Sprintf("%s: %v", source, err)) {
		metrics.RecordStatsSourceFailure(source)
		c.log.WithError(err).WithField("user_id", userID).WithField("source", source).Warn("stats source unavailable")
	}
}

// aggregate collects source results until sealed; results arriving after
// the deadline are discarded.
type aggregate struct {
	mu      sync.Mutex
	stats   domain.Stats
	pending map[string][]domain.Dimension
	sealed  bool
}

func (a *aggregate) track(source string, dims []domain.Dimension) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[source] = dims
}

func (a *aggregate) finish(source string, apply func(*domain.Stats)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	apply(&a.stats)
	delete(a.pending, source)
}

func (a *aggregate) fail(source, note string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return false
	}
	for _, d := range a.pending[source] {
		a.stats.MarkUnavailable(d, note)
	}
	delete(a.pending, source)
	return true
}

// seal marks every still-pending source as timed out and returns the
// final aggregate with the names of those sources.
func (a *aggregate) seal() (domain.Stats, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sealed = true
	var late []string
	for source, dims := range a.pending {
		for _, d := range dims {
			a.stats.MarkUnavailable(d, source+": deadline exceeded")
		}
		late = append(late, source)
	}
	a.pending = nil
	return a.stats, late
}
