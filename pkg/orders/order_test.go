package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Is(t *testing.T) {
	assert.True(t, Status("PENDING").Is(StatusPending))
	assert.True(t, Status(" Pending ").Is(StatusPending))
	assert.False(t, Status("preparing").Is(StatusPending))

	var nilOrder *Snapshot
	assert.False(t, nilOrder.IsPending())
	assert.True(t, (&Snapshot{Status: "Pending"}).IsPending())
}

func TestSnapshot_AddItems(t *testing.T) {
	t.Run("should merge equal lines and recompute totals", func(t *testing.T) {
		s := &Snapshot{}
		require.NoError(t, s.addItems([]Item{
			{ProductName: "Hamburguesa Clásica", Quantity: 1, UnitPrice: 5.99},
			{ProductName: "Gaseosa", Quantity: 2, UnitPrice: 1.99},
		}))
		require.NoError(t, s.addItems([]Item{{ProductName: "hamburguesa clásica", Quantity: 1, UnitPrice: 5.99}}))

		require.Len(t, s.Products, 2)
		assert.Equal(t, 2, s.Products[0].Quantity)
		assert.InDelta(t, 11.98, s.Products[0].Subtotal, 0.001)
		assert.InDelta(t, 15.96, s.TotalAmount, 0.001)
	})

	t.Run("should keep lines with different details apart", func(t *testing.T) {
		s := &Snapshot{}
		require.NoError(t, s.addItems([]Item{
			{ProductName: "Hamburguesa Doble", Quantity: 1, UnitPrice: 7.99},
			{ProductName: "Hamburguesa Doble", Quantity: 1, UnitPrice: 7.99, Details: "sin cebolla"},
		}))
		assert.Len(t, s.Products, 2)
	})

	t.Run("should reject invalid lines", func(t *testing.T) {
		s := &Snapshot{}
		assert.Error(t, s.addItems([]Item{{ProductName: "", Quantity: 1}}))
		assert.Error(t, s.addItems([]Item{{ProductName: "Agua", Quantity: 0}}))
		assert.Error(t, s.addItems([]Item{{ProductName: "Agua", Quantity: 1, UnitPrice: -1}}))
	})
}

func TestSnapshot_ApplyUpdate(t *testing.T) {
	base := func() *Snapshot {
		s := &Snapshot{}
		require.NoError(t, s.addItems([]Item{
			{ProductName: "Papas Medianas", Quantity: 1, UnitPrice: 2.99},
			{ProductName: "Jugo", Quantity: 1, UnitPrice: 2.49},
		}))
		return s
	}

	t.Run("should change quantity and details", func(t *testing.T) {
		s := base()
		details := "sin sal"
		require.NoError(t, s.applyUpdate(ProductUpdate{ProductName: "papas medianas", Quantity: 3, Details: &details}))
		assert.Equal(t, 3, s.Products[0].Quantity)
		assert.Equal(t, "sin sal", s.Products[0].Details)
		assert.InDelta(t, 8.97+2.49, s.TotalAmount, 0.001)
	})

	t.Run("should remove a line on zero quantity", func(t *testing.T) {
		s := base()
		require.NoError(t, s.applyUpdate(ProductUpdate{ProductName: "Jugo", Quantity: 0}))
		require.Len(t, s.Products, 1)
		assert.InDelta(t, 2.99, s.TotalAmount, 0.001)
	})

	t.Run("should report unknown products", func(t *testing.T) {
		s := base()
		assert.ErrorIs(t, s.applyUpdate(ProductUpdate{ProductName: "Pizza", Quantity: 1}), ErrProductNotFound)
	})
}

func TestSnapshot_Render(t *testing.T) {
	s := &Snapshot{ID: "o1", Status: StatusPending, Address: "Calle 10 # 5-20", CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	require.NoError(t, s.addItems([]Item{{ProductName: "Agua", Quantity: 2, UnitPrice: 1.49, Details: "fría"}}))

	out := s.Render()
	assert.Contains(t, out, "status: pending")
	assert.Contains(t, out, "2 x Agua @ 1.49 = 2.98 (fría)")
	assert.Contains(t, out, "Total: 2.98")
	assert.Contains(t, out, "Address: Calle 10 # 5-20")

	var none *Snapshot
	assert.Equal(t, NoPreviousOrder, none.Render())
}
