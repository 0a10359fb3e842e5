// Package notify delivers events to listeners on their own goroutines so a slow
// listener never blocks the producer.
//
// Two delivery modes exist:
//   - queued: every event, through a bounded queue; the oldest pending event is
//     dropped when the listener falls behind.
//   - coalesced: latest value wins per key; a slow listener gets the most recent
//     event of every key once.
package notify

import (
	"sync"

	"github.com/google/uuid"
)

const DefaultQueueSize = 256

// Subscription identifies a registered listener.
type Subscription struct {
	ID        string
	Coalesced bool
}

type listener[E any] interface {
	push(e E) (dropped bool)
	stop()
}

// Notifier fans events out to subscribers. Key groups events for coalesced
// subscribers.
type Notifier[E any, K comparable] struct {
	key       func(E) K
	queueSize int
	onDrop    func()

	mu     sync.RWMutex
	subs   map[string]listener[E]
	closed bool
	wg     sync.WaitGroup
}

// New creates a notifier. onDrop, when not nil, is called for every event a
// queued subscriber had to drop.
func New[E any, K comparable](key func(E) K, queueSize int, onDrop func()) *Notifier[E, K] {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Notifier[E, K]{key: key, queueSize: queueSize, onDrop: onDrop, subs: map[string]listener[E]{}}
}

// Add registers fn to receive every event.
func (n *Notifier[E, K]) Add(fn func(E)) Subscription {
	q := &queued[E]{fn: fn, ch: make(chan E, n.queueSize), done: make(chan struct{})}
	return n.add(q, false, q.run)
}

// AddCoalesced registers fn to receive the latest event per key.
func (n *Notifier[E, K]) AddCoalesced(fn func(E)) Subscription {
	c := &coalesced[E, K]{fn: fn, key: n.key, pending: map[K]E{}, kick: make(chan struct{}, 1), done: make(chan struct{})}
	return n.add(c, true, c.run)
}

func (n *Notifier[E, K]) add(l listener[E], coalesce bool, run func()) Subscription {
	sub := Subscription{ID: uuid.NewString(), Coalesced: coalesce}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return sub
	}
	n.subs[sub.ID] = l
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		run()
	}()
	return sub
}

// Remove unregisters a subscription. Removing twice is a no-op.
func (n *Notifier[E, K]) Remove(sub Subscription) {
	n.mu.Lock()
	l, ok := n.subs[sub.ID]
	delete(n.subs, sub.ID)
	n.mu.Unlock()
	if ok {
		l.stop()
	}
}

// Len returns the number of subscribers.
func (n *Notifier[E, K]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Notify never blocks.
func (n *Notifier[E, K]) Notify(e E) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, l := range n.subs {
		if l.push(e) && n.onDrop != nil {
			n.onDrop()
		}
	}
}

// Close stops every delivery goroutine and waits for them. Events still queued
// are discarded.
func (n *Notifier[E, K]) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	subs := n.subs
	n.subs = map[string]listener[E]{}
	n.mu.Unlock()

	for _, l := range subs {
		l.stop()
	}
	n.wg.Wait()
}

type queued[E any] struct {
	fn       func(E)
	ch       chan E
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
}

func (q *queued[E]) push(e E) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case q.ch <- e:
		return false
	default:
	}
	select {
	case <-q.ch:
	default:
	}
	select {
	case q.ch <- e:
	default:
	}
	return true
}

func (q *queued[E]) run() {
	for {
		select {
		case <-q.done:
			return
		case e := <-q.ch:
			q.fn(e)
		}
	}
}

func (q *queued[E]) stop() { q.stopOnce.Do(func() { close(q.done) }) }

type coalesced[E any, K comparable] struct {
	fn       func(E)
	key      func(E) K
	mu       sync.Mutex
	pending  map[K]E
	order    []K
	kick     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (c *coalesced[E, K]) push(e E) bool {
	k := c.key(e)
	c.mu.Lock()
	if _, ok := c.pending[k]; !ok {
		c.order = append(c.order, k)
	}
	c.pending[k] = e
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
	return false
}

func (c *coalesced[E, K]) run() {
	for {
		select {
		case <-c.done:
			return
		case <-c.kick:
		}

		c.mu.Lock()
		batch := make([]E, 0, len(c.order))
		for _, k := range c.order {
			batch = append(batch, c.pending[k])
		}
		c.pending = map[K]E{}
		c.order = c.order[:0]
		c.mu.Unlock()

		for _, e := range batch {
			select {
			case <-c.done:
				return
			default:
			}
			c.fn(e)
		}
	}
}

func (c *coalesced[E, K]) stop() { c.stopOnce.Do(func() { close(c.done) }) }
