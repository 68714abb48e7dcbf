package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"reward_ledger/internal/logger"
)

const (
	KindReferral   = "referral"
	KindWithdrawal = "withdrawal"
	KindTask       = "task"
	KindSpin       = "spin"
)

type Message struct {
	UserID string    `json:"user_id"`
	Kind   string    `json:"kind"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Sink delivers a message somewhere. Implementations may block.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Notifier accepts messages without waiting for delivery.
type Notifier interface {
	Notify(userID, kind, text string)
}

type Nop struct{}

func (Nop) Notify(string, string, string) {}

// Multi sends to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	ErrDispatcherClosed = errors.New("dispatcher closed")
	ErrQueueFull        = errors.New("notification queue full")
)

// QueuePerWorker is how many pending messages each worker may have queued
// before Notify starts dropping.
const QueuePerWorker = 64

// Dispatcher hands messages to a sink on a bounded worker pool. Notify never
// blocks: when the queue is full the message is logged and dropped, and
// delivery failures are logged and dropped too.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan Message
	pool   *pool.Pool
}

func NewDispatcher(sink Sink, workers int, timeout time.Duration) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	d := &Dispatcher{
		sink:    sink,
		timeout: timeout,
		now:     time.Now,
		queue:   make(chan Message, workers*QueuePerWorker),
		pool:    pool.New().WithMaxGoroutines(workers),
	}
	for i := 0; i < workers; i++ {
		d.pool.Go(d.work)
	}
	return d
}

func (d *Dispatcher) Notify(userID, kind, text string) {
	msg := Message{UserID: userID, Kind: kind, Text: text, SentAt: d.now()}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		logger.L.Warn("notification dropped", zap.String("user_id", userID), zap.Error(ErrDispatcherClosed))
		return
	}
	select {
	case d.queue <- msg:
	default:
		logger.L.Warn("notification dropped",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.Error(ErrQueueFull))
	}
}

func (d *Dispatcher) work() {
	for msg := range d.queue {
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.sink.Send(ctx, msg); err != nil {
		logger.L.Warn("notification delivery failed",
			zap.String("user_id", msg.UserID),
			zap.String("kind", msg.Kind),
			zap.Error(err))
	}
}

// Close stops accepting messages and waits for queued deliveries.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.pool.Wait()
}
