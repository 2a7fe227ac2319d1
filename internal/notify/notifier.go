// Package notify delivers change events to webhook subscribers and optional
// message sinks. Delivery runs on a fixed worker pool fed by a bounded queue,
// so the write path never waits on a subscriber.
package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
	DefaultTimeout   = 10 * time.Second
)

// Sink receives every event regardless of webhook subscriptions.
type Sink interface {
	Publish(ctx context.Context, p Payload, body []byte) error
	Close() error
}

// Options configures a Notifier.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per webhook delivery
	Client    *http.Client
	Sinks     []Sink
}

type queued struct {
	ctx context.Context
	ev  core.Event
}

// Notifier implements core.EventEmitter.
type Notifier struct {
	subs    core.SubscriptionStore
	client  *http.Client
	timeout time.Duration
	sinks   []Sink
	now     func() time.Time

	mu     sync.RWMutex // guards closed against sends on queue
	closed bool
	queue  chan queued
	wg     sync.WaitGroup
}

// New starts a Notifier and its workers.
func New(subs core.SubscriptionStore, opts Options) *Notifier {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}

	n := &Notifier{
		subs:    subs,
		client:  opts.Client,
		timeout: opts.Timeout,
		sinks:   opts.Sinks,
		now:     time.Now,
		queue:   make(chan queued, opts.QueueSize),
	}

	n.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go func() {
			defer n.wg.Done()
			n.worker()
		}()
	}
	return n
}

// Emit enqueues ev. A full queue or a closed notifier drops the event with a
// warning. Request-scoped log fields in ctx are kept; its cancellation is not.
func (n *Notifier) Emit(ctx context.Context, ev core.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	logger := logging.FromContext(ctx)
	if n.closed {
		logger.Warn("notifier closed, event dropped", "event", ev.Name, "record_id", ev.RecordID)
		return
	}

	select {
	case n.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		logger.Warn("notification queue full, event dropped",
			"event", ev.Name,
			"record_id", ev.RecordID,
			"queue_size", cap(n.queue),
		)
	}
}

func (n *Notifier) worker() {
	for item := range n.queue {
		n.Dispatch(item.ctx, item.ev)
	}
}

// Dispatch sends ev to every sink and every active subscription flagged for
// it. Failures are logged and recorded, never returned.
func (n *Notifier) Dispatch(ctx context.Context, ev core.Event) {
	logger := logging.WithFields(ctx, "event", ev.Name, "record_id", ev.RecordID)

	p := NewPayload(ev)
	body, err := p.Marshal()
	if err != nil {
		logger.Error("failed to encode event", "error", err)
		return
	}

	for _, sink := range n.sinks {
		if err := sink.Publish(ctx, p, body); err != nil {
			logger.Warn("failed to publish event", "error", err)
		}
	}

	subs, err := n.subs.ActiveSubscriptions(ctx, ev.Name)
	if err != nil {
		logger.Error("failed to load webhook subscriptions", "error", err)
		return
	}
	for _, sub := range subs {
		n.deliver(ctx, sub, p, body)
	}
}

// Deliver sends p to one subscription regardless of its event flags and
// records the outcome.
func (n *Notifier) Deliver(ctx context.Context, sub core.Subscription, p Payload) (core.DeliveryOutcome, error) {
	body, err := p.Marshal()
	if err != nil {
		return core.DeliveryOutcome{}, err
	}
	return n.deliver(ctx, sub, p, body), nil
}

func (n *Notifier) deliver(ctx context.Context, sub core.Subscription, p Payload, body []byte) core.DeliveryOutcome {
	logger := logging.WithFields(ctx, "webhook_id", sub.ID, "event", p.Event, "event_id", p.EventID)

	outcome := Send(ctx, n.client, n.timeout, sub, p, body)
	outcome.At = n.now()

	if outcome.Error != "" {
		logger.Warn("webhook delivery failed", "status", outcome.Status, "error", outcome.Error)
	} else {
		logger.Debug("webhook delivered", "status", outcome.Status)
	}

	if err := n.subs.RecordDelivery(ctx, sub.ID, outcome); err != nil {
		logger.Error("failed to record webhook delivery", "error", err)
	}
	return outcome
}

// Close stops accepting events and waits for queued ones to be delivered, or
// for ctx to end. Sinks are closed after the workers finish.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, sink := range n.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}

var _ core.EventEmitter = (*Notifier)(nil)
