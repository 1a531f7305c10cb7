package orders

import (
	"context"
	"time"
)

// DefaultCustomerName is given to customers created on first contact.
const DefaultCustomerName = "Usuario"

// Customer is a person identified by phone number.
type Customer struct {
	Phone       string    `json:"phone"`
	Name        string    `json:"name"`
	LastAddress string    `json:"last_address,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Directory maps customers to their conversation threads.
type Directory interface {
	EnsureCustomer(ctx context.Context, phone string) (*Customer, error)
	// ResolveSession returns the customer's latest thread, creating one if needed.
	ResolveSession(ctx context.Context, phone string) (string, error)
	// Profile returns the customer with the address of the latest order.
	Profile(ctx context.Context, phone string) (*Customer, error)
	UpdateName(ctx context.Context, phone, name string) error
	NewThread(ctx context.Context, phone string) (string, error)
}
