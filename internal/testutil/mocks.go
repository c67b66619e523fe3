package testutil

import (
	"context"
	"slices"
	"sync"

	domainErrors "github.com/cassiomorais/payouts/internal/domain/errors"
	"github.com/cassiomorais/payouts/internal/domain/payout"
	"github.com/google/uuid"
)

// --- Payout Repository Mock ---

// MockPayoutRepository is an in-memory payout.Repository. It stores and hands
// out copies, and Update checks the version like the Postgres repository.
// Each method can be overridden through its Func field.
type MockPayoutRepository struct {
	mu      sync.Mutex
	payouts map[uuid.UUID]*payout.Payout
	byKey   map[string]*payout.Payout
	updates int

	CreateFunc              func(ctx context.Context, p *payout.Payout) error
	GetByIDFunc             func(ctx context.Context, id uuid.UUID) (*payout.Payout, error)
	GetByIdempotencyKeyFunc func(ctx context.Context, key string) (*payout.Payout, error)
	UpdateFunc              func(ctx context.Context, p *payout.Payout) error
	ListFunc                func(ctx context.Context, filter payout.ListFilter) ([]*payout.Payout, error)
}

func NewMockPayoutRepository() *MockPayoutRepository {
	return &MockPayoutRepository{
		payouts: make(map[uuid.UUID]*payout.Payout),
		byKey:   make(map[string]*payout.Payout),
	}
}

// AddPayout pre-populates the mock with a payout.
func (m *MockPayoutRepository) AddPayout(p *payout.Payout) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(p)
}

func (m *MockPayoutRepository) store(p *payout.Payout) {
	if p.Version == 0 {
		p.Version = 1
	}
	c := clonePayout(p)
	m.payouts[c.ID] = c
	m.byKey[c.IdempotencyKey] = c
}

func clonePayout(p *payout.Payout) *payout.Payout {
	c := *p
	c.Recipients = slices.Clone(p.Recipients)
	c.CorrelationIDs = slices.Clone(p.CorrelationIDs)
	if p.LastError != nil {
		msg := *p.LastError
		c.LastError = &msg
	}
	return &c
}

// Updates returns how many times Update stored a payout.
func (m *MockPayoutRepository) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

func (m *MockPayoutRepository) Create(ctx context.Context, p *payout.Payout) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[p.IdempotencyKey]; ok {
		return domainErrors.ErrDuplicateIdempotencyKey
	}
	m.store(p)
	return nil
}

func (m *MockPayoutRepository) GetByID(ctx context.Context, id uuid.UUID) (*payout.Payout, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, domainErrors.ErrPayoutNotFound
	}
	return clonePayout(p), nil
}

func (m *MockPayoutRepository) GetByIdempotencyKey(ctx context.Context, key string) (*payout.Payout, error) {
	if m.GetByIdempotencyKeyFunc != nil {
		return m.GetByIdempotencyKeyFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byKey[key]
	if !ok {
		return nil, domainErrors.ErrPayoutNotFound
	}
	return clonePayout(p), nil
}

func (m *MockPayoutRepository) Update(ctx context.Context, p *payout.Payout) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.payouts[p.ID]
	if !ok {
		return domainErrors.ErrPayoutNotFound
	}
	if stored.Version != p.Version {
		return domainErrors.ErrOptimisticLockFailed
	}
	p.Version++
	m.store(p)
	m.updates++
	return nil
}

func (m *MockPayoutRepository) List(ctx context.Context, filter payout.ListFilter) ([]*payout.Payout, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*payout.Payout, 0, len(m.payouts))
	for _, p := range m.payouts {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Provider != nil && p.Provider != *filter.Provider {
			continue
		}
		if filter.UpdatedBefore != nil && !p.UpdatedAt.Before(*filter.UpdatedBefore) {
			continue
		}
		result = append(result, clonePayout(p))
	}
	return result, nil
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Event Publisher Mock ---

// PublishedEvent is one call recorded by MockEventPublisher.
type PublishedEvent struct {
	PayoutID  string
	EventType string
}

type MockEventPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent

	PublishFunc func(ctx context.Context, payoutID, eventType string) error
}

func (m *MockEventPublisher) PublishPayoutEvent(ctx context.Context, payoutID, eventType string) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, payoutID, eventType); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, PublishedEvent{PayoutID: payoutID, EventType: eventType})
	return nil
}

func (m *MockEventPublisher) Events() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedEvent, len(m.events))
	copy(out, m.events)
	return out
}
