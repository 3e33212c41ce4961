package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

// Handler processes one inbound event to completion.
type Handler func(ctx context.Context, msg domain.InboundMessage)

// Dispatcher fans inbound events out to per-sender queues. Events from
// distinct senders run concurrently; events from the same sender are
// processed strictly in order, so two near-simultaneous messages from
// one user cannot interleave a session read-modify-write.
type Dispatcher struct {
	handler   Handler
	log       *zap.Logger
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queues  map[string]chan domain.InboundMessage
	stopped bool

	processed uint64
	dropped   uint64
}

func New(handler Handler, queueSize int, log *zap.Logger) (*Dispatcher, error) {
	if handler == nil {
		return nil, errors.New("dispatch: handler must not be nil")
	}
	if log == nil {
		return nil, errors.New("dispatch: logger must not be nil")
	}
	if queueSize <= 0 {
		queueSize = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:   handler,
		log:       log,
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[string]chan domain.InboundMessage),
	}, nil
}

// Submit enqueues one event on its sender's queue, creating the queue
// and its runner on first use. A full queue drops the event rather than
// blocking the gateway read loop.
func (d *Dispatcher) Submit(msg domain.InboundMessage) {
	d.mu.Lock()
	if d.stopped {
		d.dropped++
		d.mu.Unlock()
		d.log.Warn("dispatcher stopped, event dropped", zap.String("sender", msg.SenderID))
		return
	}
	q, ok := d.queues[msg.SenderID]
	if !ok {
		q = make(chan domain.InboundMessage, d.queueSize)
		d.queues[msg.SenderID] = q
		d.wg.Add(1)
		go d.run(msg.SenderID, q)
	}

	// The enqueue happens under d.mu, the same lock Stop holds while
	// closing the queues, so a send can never hit a closed channel.
	select {
	case q <- msg:
		d.mu.Unlock()
	default:
		d.dropped++
		d.mu.Unlock()
		d.log.Warn("sender queue full, event dropped", zap.String("sender", msg.SenderID))
	}
}

// run drains one sender's queue sequentially.
func (d *Dispatcher) run(senderID string, q chan domain.InboundMessage) {
	defer d.wg.Done()
	d.log.Debug("sender queue started", zap.String("sender", senderID))
	for {
		select {
		case msg, ok := <-q:
			if !ok {
				return
			}
			d.handler(d.ctx, msg)
			d.mu.Lock()
			d.processed++
			d.mu.Unlock()
		case <-d.ctx.Done():
			return
		}
	}
}

// Stop closes every queue, waits for the runners to drain what is
// already enqueued, then releases the dispatcher context.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()

	processed, dropped := d.Stats()
	d.log.Info("dispatcher stopped",
		zap.Uint64("processed", processed),
		zap.Uint64("dropped", dropped))
}

// Stats returns the processed/dropped counters, mostly for tests and
// shutdown logging.
func (d *Dispatcher) Stats() (processed, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.processed, d.dropped
}
