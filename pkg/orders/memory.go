package orders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Service and Directory in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string][]*Snapshot // phone → orders, oldest first
	byID      map[string]*Snapshot
	customers map[string]*Customer
	threads   map[string][]string // phone → thread ids, oldest first
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string][]*Snapshot),
		byID:      make(map[string]*Snapshot),
		customers: make(map[string]*Customer),
		threads:   make(map[string][]string),
		now:       time.Now,
	}
}

func (m *MemoryStore) last(phone string) *Snapshot {
	list := m.orders[phone]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (m *MemoryStore) LastOrder(ctx context.Context, phone string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order := m.last(phone)
	if order == nil {
		return nil, ErrNoOrder
	}
	return order.clone(), nil
}

func (m *MemoryStore) Create(ctx context.Context, in NewOrder) (*Snapshot, error) {
	if strings.TrimSpace(in.Address) == "" {
		return nil, fmt.Errorf("address is required")
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("at least one product is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if last := m.last(in.Phone); last.IsPending() {
		return nil, ErrPendingOrderExists
	}

	order := &Snapshot{
		ID:        uuid.NewString(),
		Phone:     in.Phone,
		Status:    StatusPending,
		Products:  []Item{},
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: m.now().UTC(),
	}
	if err := order.addItems(in.Items); err != nil {
		return nil, err
	}

	m.orders[in.Phone] = append(m.orders[in.Phone], order)
	m.byID[order.ID] = order
	return order.clone(), nil
}

// mutate applies fn to a copy of the pending order and keeps it on success.
func (m *MemoryStore) mutate(phone string, fn func(*Snapshot) error) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.orders[phone]
	if len(list) == 0 {
		return nil, ErrNoOrder
	}
	current := list[len(list)-1]
	if !current.IsPending() {
		return nil, fmt.Errorf("%w (status: %s)", ErrOrderNotMutable, current.Status)
	}

	next := current.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	list[len(list)-1] = next
	m.byID[next.ID] = next
	return next.clone(), nil
}

func (m *MemoryStore) AddProducts(ctx context.Context, phone string, items []Item) (*Snapshot, error) {
	return m.mutate(phone, func(s *Snapshot) error { return s.addItems(items) })
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, phone string, update ProductUpdate) (*Snapshot, error) {
	return m.mutate(phone, func(s *Snapshot) error { return s.applyUpdate(update) })
}

func (m *MemoryStore) SetStatus(ctx context.Context, orderID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.byID[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNoOrder)
	}
	order.Status = status
	return nil
}

func (m *MemoryStore) EnsureCustomer(ctx context.Context, phone string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureCustomer(phone), nil
}

func (m *MemoryStore) ensureCustomer(phone string) *Customer {
	c, ok := m.customers[phone]
	if !ok {
		c = &Customer{Phone: phone, Name: DefaultCustomerName, CreatedAt: m.now().UTC()}
		m.customers[phone] = c
	}
	copied := *c
	return &copied
}

func (m *MemoryStore) ResolveSession(ctx context.Context, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureCustomer(phone)
	if list := m.threads[phone]; len(list) > 0 {
		return list[len(list)-1], nil
	}
	return m.newThread(phone), nil
}

func (m *MemoryStore) NewThread(ctx context.Context, phone string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureCustomer(phone)
	return m.newThread(phone), nil
}

func (m *MemoryStore) newThread(phone string) string {
	id := uuid.NewString()
	m.threads[phone] = append(m.threads[phone], id)
	return id
}

func (m *MemoryStore) Profile(ctx context.Context, phone string) (*Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.customers[phone]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	profile := *c
	if last := m.last(phone); last != nil {
		profile.LastAddress = last.Address
	}
	return &profile, nil
}

func (m *MemoryStore) UpdateName(ctx context.Context, phone, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ensureCustomer(phone)
	m.customers[phone].Name = name
	return nil
}
