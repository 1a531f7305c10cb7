package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrNoOrder means the customer has never ordered.
	ErrNoOrder = errors.New("no orders")
	// ErrOrderNotMutable means the latest order left the pending status.
	ErrOrderNotMutable = errors.New("order is not pending and cannot be modified")
	// ErrPendingOrderExists means a new order was requested while one is still pending.
	ErrPendingOrderExists = errors.New("customer already has a pending order")
	// ErrProductNotFound means an update named a product that is not on the order.
	ErrProductNotFound = errors.New("product not found in order")
	// ErrCustomerNotFound is returned for unknown phone numbers.
	ErrCustomerNotFound = errors.New("customer not found")
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPreparing  Status = "preparing"
	StatusInDelivery Status = "in_delivery"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Is compares statuses ignoring case and surrounding space.
func (s Status) Is(other Status) bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(other))
}

// Item is one order line.
type Item struct {
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Subtotal    float64 `json:"subtotal"`
	Details     string  `json:"details,omitempty"`
}

// Snapshot is an order as seen by the conversation.
type Snapshot struct {
	ID          string    `json:"order_id"`
	Phone       string    `json:"-"`
	Status      Status    `json:"status"`
	Products    []Item    `json:"products"`
	TotalAmount float64   `json:"total_amount"`
	Address     string    `json:"address"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsPending reports whether the order can still be modified.
func (s *Snapshot) IsPending() bool {
	return s != nil && s.Status.Is(StatusPending)
}

// NewOrder is the input of Service.Create.
type NewOrder struct {
	Phone   string
	Address string
	Items   []Item
}

// ProductUpdate changes one line of the pending order. A zero quantity
// removes the line; a nil Details keeps the current one.
type ProductUpdate struct {
	ProductName string
	Quantity    int
	Details     *string
}

// Service reads and mutates a customer's orders. Only pending orders may be
// mutated.
type Service interface {
	LastOrder(ctx context.Context, phone string) (*Snapshot, error)
	Create(ctx context.Context, order NewOrder) (*Snapshot, error)
	AddProducts(ctx context.Context, phone string, items []Item) (*Snapshot, error)
	UpdateProduct(ctx context.Context, phone string, update ProductUpdate) (*Snapshot, error)
	SetStatus(ctx context.Context, orderID string, status Status) error
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func normalizeItem(item Item) (Item, error) {
	item.ProductName = strings.TrimSpace(item.ProductName)
	if item.ProductName == "" {
		return item, fmt.Errorf("product_name is required")
	}
	if item.Quantity <= 0 {
		return item, fmt.Errorf("quantity for %s must be positive", item.ProductName)
	}
	if item.UnitPrice < 0 {
		return item, fmt.Errorf("unit_price for %s cannot be negative", item.ProductName)
	}
	item.Subtotal = roundMoney(float64(item.Quantity) * item.UnitPrice)
	return item, nil
}

func (s *Snapshot) recompute() {
	total := 0.0
	for i := range s.Products {
		s.Products[i].Subtotal = roundMoney(float64(s.Products[i].Quantity) * s.Products[i].UnitPrice)
		total += s.Products[i].Subtotal
	}
	s.TotalAmount = roundMoney(total)
}

func (s *Snapshot) find(productName string) int {
	for i, item := range s.Products {
		if strings.EqualFold(item.ProductName, strings.TrimSpace(productName)) {
			return i
		}
	}
	return -1
}

// addItems merges items into the order. Lines with the same product and
// details add up their quantities.
func (s *Snapshot) addItems(items []Item) error {
	for _, raw := range items {
		item, err := normalizeItem(raw)
		if err != nil {
			return err
		}
		merged := false
		for i, existing := range s.Products {
			if strings.EqualFold(existing.ProductName, item.ProductName) && existing.Details == item.Details {
				s.Products[i].Quantity += item.Quantity
				merged = true
				break
			}
		}
		if !merged {
			s.Products = append(s.Products, item)
		}
	}
	s.recompute()
	return nil
}

func (s *Snapshot) applyUpdate(update ProductUpdate) error {
	if update.Quantity < 0 {
		return fmt.Errorf("quantity cannot be negative")
	}
	idx := s.find(update.ProductName)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrProductNotFound, update.ProductName)
	}
	if update.Quantity == 0 {
		s.Products = append(s.Products[:idx], s.Products[idx+1:]...)
	} else {
		s.Products[idx].Quantity = update.Quantity
		if update.Details != nil {
			s.Products[idx].Details = *update.Details
		}
	}
	s.recompute()
	return nil
}

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Products = append([]Item(nil), s.Products...)
	return &c
}

// NoPreviousOrder stands in for the order of customers who have none.
const NoPreviousOrder = "No previous order."

// Render formats the order for a prompt, or NoPreviousOrder when s is nil.
func (s *Snapshot) Render() string {
	if s == nil {
		return NoPreviousOrder
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s (status: %s, created %s)\n", s.ID, s.Status, s.CreatedAt.Format(time.RFC3339))
	for _, item := range s.Products {
		fmt.Fprintf(&b, "- %d x %s @ %.2f = %.2f", item.Quantity, item.ProductName, item.UnitPrice, item.Subtotal)
		if item.Details != "" {
			fmt.Fprintf(&b, " (%s)", item.Details)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Total: %.2f\n", s.TotalAmount)
	fmt.Fprintf(&b, "Address: %s", s.Address)
	return b.String()
}
