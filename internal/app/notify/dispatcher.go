package notify

import (
	"context"
	"sync"
	"time"

	domain "github.com/R3E-Network/rewards_layer/internal/app/domain/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/metrics"
	"github.com/R3E-Network/rewards_layer/internal/app/services/evolution"
	"github.com/R3E-Network/rewards_layer/internal/app/system"
	"github.com/R3E-Network/rewards_layer/pkg/logger"
)

var (
	_ system.Service     = (*Dispatcher)(nil)
	_ evolution.Notifier = (*Dispatcher)(nil)
)

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 3
	defaultBackoff     = 200 * time.Millisecond
)

// Dispatcher queues engine events and publishes them from a single worker.
// Enqueueing never blocks the caller: when the queue is full, or the
// dispatcher has been stopped, the event is dropped and counted. Events
// queued before Start are delivered once it runs.
type Dispatcher struct {
	publisher   Publisher
	log         *logger.Logger
	queue       chan Message
	maxAttempts int
	backoff     time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	stopped bool
}

// DispatcherOption tunes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the buffer length.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Message, n)
		}
	}
}

// WithRetry sets publish attempts per event and the delay between them.
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// NewDispatcher constructs a lifecycle-managed event dispatcher.
func NewDispatcher(publisher Publisher, log *logger.Logger, opts ...DispatcherOption) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("notify-dispatcher")
	}
	if publisher == nil {
		publisher = NewLogPublisher(log)
	}
	d := &Dispatcher{
		publisher:   publisher,
		log:         log,
		queue:       make(chan Message, defaultQueueSize),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Name() string { return "notify-dispatcher" }

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	// Only Stop ends the worker; cancelling the start context does not, so
	// events from requests still in flight during shutdown are published.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.running = true
	d.stopped = false
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				d.drain()
				return
			case msg := <-d.queue:
				d.deliver(runCtx, msg)
			}
		}
	}()

	d.log.Info("notify dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.stopped = true
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("notify dispatcher stopped")
	return nil
}

// EvolutionCompleted implements evolution.Notifier.
func (d *Dispatcher) EvolutionCompleted(_ context.Context, notice domain.EvolutionNotice) {
	d.enqueue(Message{Kind: KindEvolution, Key: notice.RecordID, Payload: notice})
}

// EarningsClaimed implements evolution.Notifier.
func (d *Dispatcher) EarningsClaimed(_ context.Context, credit domain.BalanceCredit) {
	d.enqueue(Message{Kind: KindCredit, Key: credit.ID, Payload: credit})
}

func (d *Dispatcher) enqueue(msg Message) {
	// The send happens under mu so nothing lands in the queue after Stop
	// has marked the dispatcher stopped and the worker began draining.
	d.mu.Lock()
	stopped := d.stopped
	queued := false
	if !stopped {
		select {
		case d.queue <- msg:
			queued = true
		default:
		}
	}
	d.mu.Unlock()
	if queued {
		return
	}

	metrics.RecordNotification(msg.Kind, "dropped")
	reason := "notify queue full; event dropped"
	if stopped {
		reason = "notify dispatcher stopped; event dropped"
	}
	d.log.WithField("kind", msg.Kind).
		WithField("key", msg.Key).
		Warn(reason)
}

// drain flushes whatever is still queued at shutdown with a short deadline.
func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = d.publisher.Publish(ctx, msg); err == nil {
			metrics.RecordNotification(msg.Kind, "published")
			return
		}
		if attempt == d.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			attempt = d.maxAttempts
		case <-time.After(d.backoff):
		}
	}
	metrics.RecordNotification(msg.Kind, "failed")
	d.log.WithError(err).
		WithField("kind", msg.Kind).
		WithField("key", msg.Key).
		Warn("publish event failed")
}
