package bthal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const defaultQueueDepth = 64

// dispatcher serializes stack event delivery onto a single goroutine.
// Backend callbacks arrive on whatever goroutine the stack uses; every
// profile bridge converts a callback into a task and posts it here, so
// handlers always run one at a time, in arrival order, and never need
// to care which goroutine a backend calls from.
type dispatcher struct {
	log   *slog.Logger
	tasks chan func()

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

func newDispatcher(log *slog.Logger, depth int) *dispatcher {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		log:    log,
		tasks:  make(chan func(), depth),
		ctx:    ctx,
		cancel: cancel,
	}
}

// start begins delivering posted tasks.
func (d *dispatcher) start() {
	if d.running.Swap(true) {
		return // already running
	}
	d.wg.Add(1)
	go d.loop()
}

// stop shuts delivery down. Tasks already queued are delivered before
// stop returns; tasks posted afterwards are dropped.
func (d *dispatcher) stop() {
	if !d.running.Swap(false) {
		return // not running
	}
	d.cancel()
	d.wg.Wait()
}

// post queues fn for delivery and reports whether it was accepted.
// A full queue blocks the caller until there is room; that backpressure
// lands on the backend's callback goroutine, never on handlers. Posting
// to a stopped dispatcher drops the task, so events from a backend that
// is still winding down cannot wedge a session close.
func (d *dispatcher) post(fn func()) bool {
	if !d.running.Load() {
		return false
	}
	select {
	case d.tasks <- fn:
		return true
	case <-d.ctx.Done():
		return false
	}
}

func (d *dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case fn := <-d.tasks:
			fn()
		case <-d.ctx.Done():
			// Drain what was queued before the stop.
			for {
				select {
				case fn := <-d.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}
