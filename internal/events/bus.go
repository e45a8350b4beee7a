// Package events fans indexer changes out to subscribers. Delivery is
// non-blocking with a bounded per-subscriber queue; a subscriber that falls
// behind is disconnected and must resume through the catch-up protocol.
package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"go.uber.org/zap"

	"github.com/bwt-dev/bwt/internal/model"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth.
const DefaultSubscriberBuffer = 256

// ErrReorgGone is returned to catch-up requests whose synced tip is no
// longer on-chain; the client must re-synchronize from an earlier height.
type ErrReorgGone struct {
	Height      int32
	RequestHash chainhash.Hash
	CurrentHash chainhash.Hash
}

func (e *ErrReorgGone) Error() string {
	return fmt.Sprintf("block %s at height %d was reorged away (now %s)",
		e.RequestHash, e.Height, e.CurrentHash)
}

// ErrOutOfRange is returned when the requested catch-up height is older than
// the retained block memory; the client must do a full re-sync.
var ErrOutOfRange = errors.New("synced tip is older than the retained event horizon")

// ErrBusClosed is returned for subscriptions after shutdown.
var ErrBusClosed = errors.New("event bus is closed")

// Filter restricts which changes a subscriber receives. The zero value
// matches everything.
type Filter struct {
	Categories []model.ChangeCategory
	ScriptHash *model.ScriptHash
	OutPoint   *wire.OutPoint
}

// Matches reports whether the change passes the filter.
func (f Filter) Matches(change model.IndexChange) bool {
	if len(f.Categories) > 0 {
		ok := false
		for _, category := range f.Categories {
			if change.Category() == category {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ScriptHash != nil {
		sh, ok := model.ScriptHashOf(change)
		if !ok || sh != *f.ScriptHash {
			return false
		}
	}
	if f.OutPoint != nil {
		outpoint, ok := model.OutPointOf(change)
		if !ok || outpoint != *f.OutPoint {
			return false
		}
	}
	return true
}

// Subscriber is one registered consumer. Events arrive on Events();
// Done() closes when the bus disconnects the subscriber (overflow or
// shutdown), after which Events() is drained and closed.
type Subscriber struct {
	id     uint64
	filter Filter
	ch     chan model.IndexChange
	done   chan struct{}
	once   sync.Once
	bus    *Bus
}

// Events returns the subscriber's event stream.
func (s *Subscriber) Events() <-chan model.IndexChange {
	return s.ch
}

// Done closes when the subscriber was disconnected by the bus.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.bus.unsubscribe(s.id)
}

func (s *Subscriber) terminate() {
	s.once.Do(func() {
		close(s.done)
		close(s.ch)
	})
}

// Bus broadcasts indexer changes. One producer (the indexer), many
// subscribers.
type Bus struct {
	mu          sync.Mutex
	logger      *zap.Logger
	metrics     BusMetrics
	store       StoreReader
	subscribers map[uint64]*Subscriber
	nextID      uint64
	bufSize     int
	closed      bool
}

// New creates a bus reading catch-up state from store.
func New(logger *zap.Logger, store StoreReader, metrics BusMetrics, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultSubscriberBuffer
	}
	return &Bus{
		logger:      logger.Named("events"),
		metrics:     metrics,
		store:       store,
		subscribers: make(map[uint64]*Subscriber),
		bufSize:     bufSize,
	}
}

// Subscribe registers a live subscriber.
func (b *Bus) Subscribe(filter Filter) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &Subscriber{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan model.IndexChange, b.bufSize),
		done:   make(chan struct{}),
		bus:    b,
	}
	b.nextID++
	b.subscribers[sub.id] = sub
	b.observeSubscribers()
	return sub, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	sub.terminate()
	b.observeSubscribers()
}

// Publish delivers the cycle's changes to every matching subscriber, in
// order, without blocking on any of them. A subscriber whose queue overflows
// is disconnected.
func (b *Bus) Publish(changes []model.IndexChange) {
	if len(changes) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.metrics != nil {
		for _, change := range changes {
			b.metrics.ObservePublish(string(change.Category()))
		}
	}

	var dropped []uint64
	for id, sub := range b.subscribers {
		overflowed := false
		for _, change := range changes {
			if !sub.filter.Matches(change) {
				continue
			}
			select {
			case sub.ch <- change:
			default:
				overflowed = true
			}
			if overflowed {
				dropped = append(dropped, id)
				break
			}
		}
	}

	for _, id := range dropped {
		sub := b.subscribers[id]
		delete(b.subscribers, id)
		sub.terminate()
		if b.metrics != nil {
			b.metrics.ObserveDroppedSubscriber()
		}
		b.logger.Warn("dropped slow event subscriber", zap.Uint64("id", id))
	}
	if len(dropped) > 0 {
		b.observeSubscribers()
	}
}

// Close disconnects every subscriber with a terminal marker and rejects new
// subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.terminate()
	}
	b.observeSubscribers()
}

func (b *Bus) observeSubscribers() {
	if b.metrics != nil {
		b.metrics.ObserveSubscribers(len(b.subscribers))
	}
}
