package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/bespoke-orders/pkg/models"
)

type MemoryStore struct {
	mutex    sync.RWMutex
	orders   map[string]*models.Order
	fittings map[string]*models.VirtualFitting
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		fittings: make(map[string]*models.VirtualFitting),
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, draft *models.Order) (*models.Order, error) {
	order := newOrder(draft, s.now().UTC())

	s.mutex.Lock()
	s.orders[order.ID] = order
	s.mutex.Unlock()

	return cloneOrder(order), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(order, s.now().UTC())
	return cloneOrder(order), nil
}

func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*models.Order, error) {
	s.mutex.RLock()
	out := make([]*models.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		out = append(out, cloneOrder(order))
	}
	s.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateFitting(ctx context.Context, req models.FittingRequest) (*models.VirtualFitting, error) {
	fitting := newFitting(req, s.now().UTC())

	s.mutex.Lock()
	s.fittings[fitting.ID] = fitting
	s.mutex.Unlock()

	copied := *fitting
	return &copied, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func newOrder(draft *models.Order, now time.Time) *models.Order {
	order := cloneOrder(draft)
	order.ID = uuid.New().String()
	order.Status = models.StatusPendingPayment
	order.CreatedAt = now
	order.UpdatedAt = now
	return order
}

func newFitting(req models.FittingRequest, now time.Time) *models.VirtualFitting {
	return &models.VirtualFitting{
		ID:            uuid.New().String(),
		CustomerInfo:  req.CustomerInfo,
		PreferredDate: req.PreferredDate,
		PreferredTime: req.PreferredTime,
		FittingType:   req.FittingType,
		Notes:         req.Notes,
		Status:        "pending",
		CreatedAt:     now,
	}
}

// cloneOrder copies the order including pointer fields so callers never
// share memory with the stored document.
func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.CustomerInfo.Age != nil {
		age := *o.CustomerInfo.Age
		c.CustomerInfo.Age = &age
	}
	m := &c.Measurements
	for _, f := range []**float64{&m.Outseam, &m.Inseam, &m.Waist, &m.HipSeat, &m.Thigh, &m.CrotchRise, &m.BottomOpening} {
		if *f != nil {
			v := **f
			*f = &v
		}
	}
	if o.PaymentVerifiedAt != nil {
		t := *o.PaymentVerifiedAt
		c.PaymentVerifiedAt = &t
	}
	if o.PaymentFailedAt != nil {
		t := *o.PaymentFailedAt
		c.PaymentFailedAt = &t
	}
	return &c
}
