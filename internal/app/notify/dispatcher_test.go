package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

type capturePublisher struct {
	mu       sync.Mutex
	got      []Message
	failures int
	block    chan struct{}
}

func (p *capturePublisher) Publish(ctx context.Context, msg Message) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker down")
	}
	p.got = append(p.got, msg)
	return nil
}

func (p *capturePublisher) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.got...)
}

func quiet() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestDispatcherPublishesBothKinds(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, quiet(), WithRetry(1, 0))
	require.NoError(t, d.Start(context.Background()))

	d.EvolutionCompleted(context.Background(), domain.EvolutionNotice{RecordID: "rec-1", UserID: "u1", Rarity: domain.RarityEpic})
	d.EarningsClaimed(context.Background(), domain.BalanceCredit{ID: "claim-1", UserID: "u1", Amount: decimal.RequireFromString("2.74")})

	require.Eventually(t, func() bool { return len(pub.messages()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop(context.Background()))

	msgs := pub.messages()
	assert.Equal(t, KindEvolution, msgs[0].Kind)
	assert.Equal(t, "rec-1", msgs[0].Key)
	assert.Equal(t, KindCredit, msgs[1].Kind)
	assert.Equal(t, "claim-1", msgs[1].Key)
}

func TestDispatcherRetriesFailedPublish(t *testing.T) {
	pub := &capturePublisher{failures: 2}
	d := NewDispatcher(pub, quiet(), WithRetry(3, time.Millisecond))
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	d.EarningsClaimed(context.Background(), domain.BalanceCredit{ID: "claim-1"})
	require.Eventually(t, func() bool { return len(pub.messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	pub := &capturePublisher{}
	// not started, so nothing drains the queue
	d := NewDispatcher(pub, quiet(), WithQueueSize(1))

	d.EarningsClaimed(context.Background(), domain.BalanceCredit{ID: "a"})
	d.EarningsClaimed(context.Background(), domain.BalanceCredit{ID: "b"})
	assert.Len(t, d.queue, 1)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { return len(pub.messages()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, "a", pub.messages()[0].Key)
}

func TestDispatcherStopIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil, quiet())
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
}

func TestDispatcherOutlivesStartContext(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, quiet(), WithRetry(1, 0))

	runCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(runCtx))
	// signal arrives; in-flight claims still commit before Stop
	cancel()
	d.EarningsClaimed(context.Background(), domain.BalanceCredit{ID: "late-claim"})

	require.NoError(t, d.Stop(context.Background()))
	msgs := pub.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "late-claim", msgs[0].Key)
	assert.Empty(t, d.queue)
}

func TestDispatcherDropsAfterStop(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, quiet(), WithRetry(1, 0))
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	d.EarningsClaimed(context.Background(), domain.BalanceCredit{ID: "after-stop"})
	assert.Empty(t, d.queue)
	assert.Empty(t, pub.messages())
}
