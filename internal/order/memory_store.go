package order

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"
)

// MemoryStore is an in-process Repository. Orders are kept in a B-tree keyed by id so
// scans come back in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  *btree.BTreeG[Order]
	byOwner map[common.Address][]uint64
	nextID  uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: btree.NewBTreeG(func(a, b Order) bool {
			return a.ID < b.ID
		}),
		byOwner: make(map[common.Address][]uint64),
		nextID:  1,
	}
}

func (s *MemoryStore) Insert(_ context.Context, o Order) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o.ID = s.nextID
	o.Version = 1
	s.nextID++
	s.orders.Set(o)
	s.byOwner[o.Owner] = append(s.byOwner[o.Owner], o.ID)
	return o, nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders.Get(Order{ID: id})
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *MemoryStore) Update(_ context.Context, o Order, expectedVersion uint64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders.Get(Order{ID: o.ID})
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return Order{}, ErrVersionConflict
	}
	// Identity fields are immutable.
	o.Owner = cur.Owner
	o.CreatedAt = cur.CreatedAt
	o.Version = expectedVersion + 1
	s.orders.Set(o)
	return o, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner common.Address) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[owner]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

func (s *MemoryStore) ListActive(_ context.Context) ([]Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, s.orders.Len())
	s.orders.Scan(func(o Order) bool {
		if o.IsActive {
			out = append(out, o)
		}
		return true
	})
	return out, nil
}

// Len returns the number of stored orders.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders.Len()
}
