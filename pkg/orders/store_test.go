package orders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(context.Background(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

var burger = Item{ProductName: "Hamburguesa Clásica", Quantity: 1, UnitPrice: 5.99}

func TestStores_Orders(t *testing.T) {
	ctx := context.Background()
	const phone = "573001112233"

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("should report no orders", func(t *testing.T) {
				store := factory(t)
				_, err := store.LastOrder(ctx, phone)
				assert.ErrorIs(t, err, ErrNoOrder)
			})

			t.Run("should create and read back a pending order", func(t *testing.T) {
				store := factory(t)
				created, err := store.Create(ctx, NewOrder{Phone: phone, Address: "Calle 1", Items: []Item{burger}})
				require.NoError(t, err)
				assert.True(t, created.IsPending())

				last, err := store.LastOrder(ctx, phone)
				require.NoError(t, err)
				assert.Equal(t, created.ID, last.ID)
				assert.Equal(t, "Calle 1", last.Address)
				require.Len(t, last.Products, 1)
				assert.InDelta(t, 5.99, last.TotalAmount, 0.001)
			})

			t.Run("should refuse a second pending order", func(t *testing.T) {
				store := factory(t)
				_, err := store.Create(ctx, NewOrder{Phone: phone, Address: "Calle 1", Items: []Item{burger}})
				require.NoError(t, err)
				_, err = store.Create(ctx, NewOrder{Phone: phone, Address: "Calle 1", Items: []Item{burger}})
				assert.ErrorIs(t, err, ErrPendingOrderExists)
			})

			t.Run("should require address and products", func(t *testing.T) {
				store := factory(t)
				_, err := store.Create(ctx, NewOrder{Phone: phone, Items: []Item{burger}})
				assert.Error(t, err)
				_, err = store.Create(ctx, NewOrder{Phone: phone, Address: "Calle 1"})
				assert.Error(t, err)
			})

			t.Run("should mutate only pending orders", func(t *testing.T) {
				store := factory(t)
				created, err := store.Create(ctx, NewOrder{Phone: phone, Address: "Calle 1", Items: []Item{burger}})
				require.NoError(t, err)

				updated, err := store.AddProducts(ctx, phone, []Item{{ProductName: "Agua", Quantity: 2, UnitPrice: 1.49}})
				require.NoError(t, err)
				assert.Len(t, updated.Products, 2)
				assert.InDelta(t, 8.97, updated.TotalAmount, 0.001)

				updated, err = store.UpdateProduct(ctx, phone, ProductUpdate{ProductName: "Agua", Quantity: 0})
				require.NoError(t, err)
				assert.Len(t, updated.Products, 1)

				require.NoError(t, store.SetStatus(ctx, created.ID, StatusPreparing))

				_, err = store.AddProducts(ctx, phone, []Item{burger})
				assert.ErrorIs(t, err, ErrOrderNotMutable)
				_, err = store.UpdateProduct(ctx, phone, ProductUpdate{ProductName: burger.ProductName, Quantity: 2})
				assert.ErrorIs(t, err, ErrOrderNotMutable)

				last, err := store.LastOrder(ctx, phone)
				require.NoError(t, err)
				assert.Len(t, last.Products, 1, "a refused mutation leaves the order untouched")

				_, err = store.Create(ctx, NewOrder{Phone: phone, Address: "Calle 2", Items: []Item{burger}})
				assert.NoError(t, err, "a new order is allowed once the previous one left pending")
			})

			t.Run("should report mutations without any order", func(t *testing.T) {
				store := factory(t)
				_, err := store.AddProducts(ctx, phone, []Item{burger})
				assert.ErrorIs(t, err, ErrNoOrder)
				assert.ErrorIs(t, store.SetStatus(ctx, "missing", StatusCancelled), ErrNoOrder)
			})
		})
	}
}

func TestStores_Directory(t *testing.T) {
	ctx := context.Background()
	const phone = "573001112233"

	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("should create customers with the default name", func(t *testing.T) {
				store := factory(t)
				c, err := store.EnsureCustomer(ctx, phone)
				require.NoError(t, err)
				assert.Equal(t, DefaultCustomerName, c.Name)

				again, err := store.EnsureCustomer(ctx, phone)
				require.NoError(t, err)
				assert.Equal(t, c.Phone, again.Phone)
			})

			t.Run("should resolve a stable thread until a new one starts", func(t *testing.T) {
				store := factory(t)
				first, err := store.ResolveSession(ctx, phone)
				require.NoError(t, err)
				require.NotEmpty(t, first)

				same, err := store.ResolveSession(ctx, phone)
				require.NoError(t, err)
				assert.Equal(t, first, same)

				next, err := store.NewThread(ctx, phone)
				require.NoError(t, err)
				assert.NotEqual(t, first, next)

				latest, err := store.ResolveSession(ctx, phone)
				require.NoError(t, err)
				assert.Equal(t, next, latest)
			})

			t.Run("should build the profile from name and last address", func(t *testing.T) {
				store := factory(t)
				_, err := store.Profile(ctx, phone)
				assert.ErrorIs(t, err, ErrCustomerNotFound)

				_, err = store.EnsureCustomer(ctx, phone)
				require.NoError(t, err)
				require.NoError(t, store.UpdateName(ctx, phone, "Ana"))
				_, err = store.Create(ctx, NewOrder{Phone: phone, Address: "Carrera 7 # 12-40", Items: []Item{burger}})
				require.NoError(t, err)

				profile, err := store.Profile(ctx, phone)
				require.NoError(t, err)
				assert.Equal(t, "Ana", profile.Name)
				assert.Equal(t, "Carrera 7 # 12-40", profile.LastAddress)

				assert.Error(t, store.UpdateName(ctx, phone, "  "))
			})
		})
	}
}

func TestOpen(t *testing.T) {
	store, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = Open(context.Background(), Config{Driver: "mysql"})
	assert.Error(t, err)
}
