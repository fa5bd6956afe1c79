// Package offer generates a commercial offer message once an order's saga
// confirms. It is thin glue around the coordination core: one captured fact,
// one template rendering, one output event.
package offer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Template is a named text/template body. Fields available to the body are
// the ones of Details plus the order ID.
type Template struct {
	Name string `bson:"_id" json:"name"`
	Body string `bson:"body" json:"body"`
}

// DefaultTemplate is used when no template was provisioned.
var DefaultTemplate = Template{
	Name: "default",
	Body: "Offer for order {{.OrderID}}: {{.Quantity}} x product {{.ProductID}} for {{.AmountCents}} {{.Currency}}.",
}

// TemplateStore holds offer templates. A Mongo-backed implementation lives
// in adapters/store.
type TemplateStore interface {
	Put(ctx context.Context, t Template) error
	Get(ctx context.Context, name string) (Template, bool, error)
}

// MemoryTemplateStore is the in-process TemplateStore.
type MemoryTemplateStore struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemoryTemplateStore creates an empty store.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{templates: make(map[string]Template)}
}

func (s *MemoryTemplateStore) Put(ctx context.Context, t Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.Name] = t
	return nil
}

func (s *MemoryTemplateStore) Get(ctx context.Context, name string) (Template, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	return t, ok, nil
}

// Offer is the rendered result, kept per order.
type Offer struct {
	OfferID   uuid.UUID `json:"offer_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps rendered offers for the query side.
type Store interface {
	Save(ctx context.Context, o Offer) error
	GetByOrder(ctx context.Context, orderID uuid.UUID) (Offer, bool, error)
}

// MemoryStore is the in-process offer Store.
type MemoryStore struct {
	mu      sync.RWMutex
	byOrder map[uuid.UUID]Offer
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[uuid.UUID]Offer)}
}

func (s *MemoryStore) Save(ctx context.Context, o Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOrder[o.OrderID] = o
	return nil
}

func (s *MemoryStore) GetByOrder(ctx context.Context, orderID uuid.UUID) (Offer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byOrder[orderID]
	return o, ok, nil
}
