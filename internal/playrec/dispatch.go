package playrec

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

type notificationKind int

const (
	notifyPreparedPlayer notificationKind = iota
	notifyPreparedRecorder
	notifyUpdate
	notifyFinish
)

func (k notificationKind) String() string {
	switch k {
	case notifyPreparedPlayer:
		return "didPreparePlayer"
	case notifyPreparedRecorder:
		return "didPrepareRecorder"
	case notifyUpdate:
		return "didUpdate"
	case notifyFinish:
		return "willFinish"
	default:
		return "unknown"
	}
}

type notification struct {
	kind       notificationKind
	successful bool
	session    uint64
	// after runs on the dispatch goroutine once the delegate has returned.
	after func()
}

// dispatcher delivers notifications in order on one goroutine. push never
// blocks, so it is safe to call with the core lock held.
type dispatcher struct {
	mu      sync.Mutex
	queue   []notification
	updates int
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	exited  chan struct{}

	deliver func(notification)
	logger  *log.Logger
}

func newDispatcher(logger *log.Logger, deliver func(notification)) *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		deliver: deliver,
		logger:  logger,
	}
	go d.loop()
	return d
}

// push queues n. A didUpdate is dropped when one is already waiting.
func (d *dispatcher) push(n notification) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if n.kind == notifyUpdate {
		if d.updates > 0 {
			d.mu.Unlock()
			return
		}
		d.updates++
	}
	d.queue = append(d.queue, n)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.exited)
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			n, ok := d.pop()
			if !ok {
				break
			}
			d.run(n)
		}
	}
}

func (d *dispatcher) pop() (notification, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.queue) == 0 {
		return notification{}, false
	}
	n := d.queue[0]
	d.queue[0] = notification{}
	d.queue = d.queue[1:]
	if n.kind == notifyUpdate {
		d.updates--
	}
	return n, true
}

func (d *dispatcher) run(n notification) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("delegate panicked", "event", n.kind, "panic", fmt.Sprint(r))
		}
		if n.after != nil {
			n.after()
		}
	}()
	d.deliver(n)
}

// close stops delivery and drops anything still queued. A delivery already
// running is allowed to finish; close does not wait for it so that a delegate
// may close the PlayerRecorder from inside a callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.queue = nil
	d.updates = 0
	d.mu.Unlock()

	close(d.done)
}
