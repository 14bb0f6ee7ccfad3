// Package store owns the locally cached order collection. It is the
// reference Sink for the reconciliation client: the two dispatched actions
// are its entire write surface.
package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/orderdeck/orderdeck/order"
	"github.com/orderdeck/orderdeck/reconcile"
)

// Event describes one store mutation for live subscribers.
type Event struct {
	Kind     EventKind    `json:"kind"`
	Order    *order.Order `json:"order,omitempty"`
	Count    int          `json:"count"`
	Sequence int64        `json:"sequence"`
}

type EventKind string

const (
	EventUpsert   EventKind = "upsert"
	EventSnapshot EventKind = "snapshot"
)

// Publisher consumes stream events produced by store mutations.
type Publisher interface {
	Publish(Event)
}

// Journal persists mutations so a restart can catch up before the first
// snapshot arrives. Journal failures never fail the in-memory write.
type Journal interface {
	RecordSnapshot(ctx context.Context, orders []order.Order, receivedAt string) error
	RecordDelta(ctx context.Context, id string, patch order.Patch) error
}

// Meta is the paging metadata of the snapshot currently held.
type Meta struct {
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	HasNext    bool   `json:"hasNext"`
	ReceivedAt string `json:"receivedAt"`
	Count      int    `json:"count"`
}

// Store is the in-memory order collection. All mutations arrive through
// Apply; readers get copies.
type Store struct {
	mu       sync.RWMutex
	orders   map[string]order.Order
	sequence []string
	meta     Meta
	eventSeq int64

	publisher Publisher
	journal   Journal
	logger    *slog.Logger
}

type StoreOption func(*Store)

// WithPublisher attaches a live-event publisher.
func WithPublisher(p Publisher) StoreOption {
	return func(s *Store) {
		s.publisher = p
	}
}

// WithJournal attaches a persistence journal.
func WithJournal(j Journal) StoreOption {
	return func(s *Store) {
		s.journal = j
	}
}

// WithLogger overrides the diagnostics logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs an empty store.
func New(opts ...StoreOption) *Store {
	s := &Store{
		orders: make(map[string]order.Order),
		logger: slog.Default().WithGroup("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply executes one dispatched action. Implements reconcile.Sink.
func (s *Store) Apply(action reconcile.Action) {
	switch a := action.(type) {
	case reconcile.UpsertOrder:
		s.applyUpsert(a)
	case reconcile.ReplaceOrders:
		s.applyReplace(a)
	default:
		s.logger.Warn("ignoring unknown action")
	}
}

func (s *Store) applyUpsert(a reconcile.UpsertOrder) {
	if a.ID == "" {
		return
	}

	s.mu.Lock()
	current, seen := s.orders[a.ID]
	if !seen {
		current = order.Order{
			ID:     a.ID,
			Side:   order.SideBuy,
			Type:   order.TypeLimit,
			Status: order.StatusWorking,
			Source: order.SourceUnknown,
		}
		s.sequence = append(s.sequence, a.ID)
	}
	a.Changes.Apply(&current)
	current.ID = a.ID
	s.orders[a.ID] = current
	s.eventSeq++
	evt := Event{Kind: EventUpsert, Order: &current, Count: len(s.orders), Sequence: s.eventSeq}
	s.mu.Unlock()

	s.publish(evt)
	if s.journal != nil {
		if err := s.journal.RecordDelta(context.Background(), a.ID, a.Changes); err != nil {
			s.logger.Warn("could not journal delta", slog.String("error", err.Error()))
		}
	}
}

func (s *Store) applyReplace(a reconcile.ReplaceOrders) {
	s.mu.Lock()
	s.orders = make(map[string]order.Order, len(a.Orders))
	s.sequence = s.sequence[:0]
	for _, o := range a.Orders {
		if o.ID == "" {
			continue
		}
		if _, dup := s.orders[o.ID]; !dup {
			s.sequence = append(s.sequence, o.ID)
		}
		s.orders[o.ID] = o
	}
	s.meta = Meta{
		Total:      a.Total,
		Page:       a.Page,
		PageSize:   a.PageSize,
		HasNext:    a.HasNext,
		ReceivedAt: a.ReceivedAt,
		Count:      len(s.orders),
	}
	s.eventSeq++
	evt := Event{Kind: EventSnapshot, Count: len(s.orders), Sequence: s.eventSeq}
	s.mu.Unlock()

	s.publish(evt)
	if s.journal != nil {
		if err := s.journal.RecordSnapshot(context.Background(), a.Orders, a.ReceivedAt); err != nil {
			s.logger.Warn("could not journal snapshot", slog.String("error", err.Error()))
		}
	}
}

func (s *Store) publish(evt Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

// List returns the collection in snapshot order, with deltas for unseen ids
// appended in arrival order.
func (s *Store) List() []order.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.Order, 0, len(s.orders))
	for _, id := range s.sequence {
		if o, ok := s.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Get returns one order by id.
func (s *Store) Get(id string) (order.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Len reports the collection size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Meta returns the paging metadata of the last applied snapshot.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta := s.meta
	meta.Count = len(s.orders)
	return meta
}

// Restore seeds the collection from a journaled snapshot without emitting
// events, for startup catch-up before live traffic resumes.
func (s *Store) Restore(orders []order.Order, receivedAt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = make(map[string]order.Order, len(orders))
	s.sequence = s.sequence[:0]
	for _, o := range orders {
		if o.ID == "" {
			continue
		}
		if _, dup := s.orders[o.ID]; !dup {
			s.sequence = append(s.sequence, o.ID)
		}
		s.orders[o.ID] = o
	}
	s.meta = Meta{Total: len(s.orders), ReceivedAt: receivedAt, Count: len(s.orders)}
}

// RestoreDeltas replays journaled patches on top of a restored snapshot,
// again without events or re-journaling.
func (s *Store) RestoreDeltas(deltas []order.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		if d.ID == "" {
			continue
		}
		current, seen := s.orders[d.ID]
		if !seen {
			current = order.Order{
				ID:     d.ID,
				Side:   order.SideBuy,
				Type:   order.TypeLimit,
				Status: order.StatusWorking,
				Source: order.SourceUnknown,
			}
			s.sequence = append(s.sequence, d.ID)
		}
		d.Changes.Apply(&current)
		current.ID = d.ID
		s.orders[d.ID] = current
	}
}

var _ reconcile.Sink = (*Store)(nil)
