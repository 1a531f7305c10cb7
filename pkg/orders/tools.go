package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/tools"
	"github.com/rs/zerolog/log"
)

// Tool names.
const (
	ToolGetLastOrder       = "get_last_order"
	ToolConfirmOrder       = "confirm_order"
	ToolAddProducts        = "add_products_to_order"
	ToolUpdateOrderProduct = "update_order_product"
)

var productItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"product_name": map[string]any{"type": "string", "description": "Product name exactly as on the menu"},
		"quantity":     map[string]any{"type": "integer", "minimum": 1, "description": "Units ordered"},
		"unit_price":   map[string]any{"type": "number", "minimum": 0, "description": "Menu price of one unit"},
		"details":      map[string]any{"type": "string", "description": "Preparation notes"},
	},
	"required": []string{"product_name", "quantity", "unit_price"},
}

var phoneParam = tools.Parameter{
	Name:        "phone",
	Type:        "string",
	Description: "Customer phone number",
	Required:    true,
	Injected:    true,
}

// RegisterTools adds the order tools to reg.
func RegisterTools(reg *tools.Registry, svc Service, dir Directory) error {
	h := &toolHandlers{svc: svc, dir: dir}

	defs := []tools.Definition{
		{
			Name:        ToolGetLastOrder,
			Description: "Get the status and products of the customer's most recent order.",
			Parameters:  []tools.Parameter{phoneParam},
			Handler:     h.getLastOrder,
		},
		{
			Name:        ToolConfirmOrder,
			Description: "Create a new order once the customer confirmed products, name and delivery address.",
			Parameters: []tools.Parameter{
				phoneParam,
				{Name: "name", Type: "string", Description: "Customer name", Backfill: true},
				{Name: "address", Type: "string", Description: "Delivery address", Backfill: true},
				{Name: "products", Type: "array", Description: "Products to order", Required: true, Items: productItemSchema},
			},
			Handler:  h.confirmOrder,
			Mutating: true,
		},
		{
			Name:        ToolAddProducts,
			Description: "Add products to the customer's pending order.",
			Parameters: []tools.Parameter{
				phoneParam,
				{Name: "products", Type: "array", Description: "Products to add", Items: productItemSchema},
			},
			Handler:  h.addProducts,
			Mutating: true,
		},
		{
			Name:        ToolUpdateOrderProduct,
			Description: "Change the quantity or details of a product in the pending order. Quantity 0 removes it.",
			Parameters: []tools.Parameter{
				phoneParam,
				{Name: "product_name", Type: "string", Description: "Product already in the order", Required: true},
				{Name: "quantity", Type: "integer", Description: "New quantity, 0 to remove", Required: true},
				{Name: "details", Type: "string", Description: "New preparation notes"},
			},
			Handler:  h.updateProduct,
			Mutating: true,
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to register %s: %w", def.Name, err)
		}
	}
	return nil
}

type toolHandlers struct {
	svc Service
	dir Directory
}

func (h *toolHandlers) getLastOrder(ctx context.Context, args map[string]any) (any, error) {
	order, err := h.svc.LastOrder(ctx, stringArg(args, "phone"))
	if errors.Is(err, ErrNoOrder) {
		return map[string]any{"has_orders": false, "message": "no orders"}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"has_orders": true, "order": order}, nil
}

func (h *toolHandlers) confirmOrder(ctx context.Context, args map[string]any) (any, error) {
	phone := stringArg(args, "phone")
	address := strings.TrimSpace(stringArg(args, "address"))
	if address == "" {
		return nil, fmt.Errorf("delivery address is missing: ask the customer for it before confirming")
	}
	name := strings.TrimSpace(stringArg(args, "name"))
	if name == "" || name == DefaultCustomerName {
		return nil, fmt.Errorf("customer name is missing: ask the customer for it before confirming")
	}
	items, err := itemsArg(args, "products")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("the order has no products")
	}

	order, err := h.svc.Create(ctx, NewOrder{Phone: phone, Address: address, Items: items})
	if err != nil {
		return nil, err
	}
	if err := h.dir.UpdateName(ctx, phone, name); err != nil {
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Warn().Err(err).Msg("Failed to update customer name")
	}

	observability.RecordOrderAudit(ctx, "create", phone, "success", auditMeta(ctx, map[string]interface{}{
		"order_id": order.ID,
		"total":    order.TotalAmount,
	}))
	return order, nil
}

func (h *toolHandlers) addProducts(ctx context.Context, args map[string]any) (any, error) {
	items, err := itemsArg(args, "products")
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return map[string]any{"added": 0, "message": "no products to add"}, nil
	}

	order, err := h.svc.AddProducts(ctx, stringArg(args, "phone"), items)
	if err != nil {
		return nil, err
	}
	observability.RecordOrderAudit(ctx, "add_products", stringArg(args, "phone"), "success", auditMeta(ctx, map[string]interface{}{
		"order_id": order.ID,
		"added":    len(items),
	}))
	return order, nil
}

func (h *toolHandlers) updateProduct(ctx context.Context, args map[string]any) (any, error) {
	quantity, err := intArg(args, "quantity")
	if err != nil {
		return nil, err
	}
	update := ProductUpdate{
		ProductName: stringArg(args, "product_name"),
		Quantity:    quantity,
	}
	if v, ok := args["details"].(string); ok {
		update.Details = &v
	}

	order, err := h.svc.UpdateProduct(ctx, stringArg(args, "phone"), update)
	if err != nil {
		return nil, err
	}
	observability.RecordOrderAudit(ctx, "update_product", stringArg(args, "phone"), "success", auditMeta(ctx, map[string]interface{}{
		"order_id": order.ID,
		"product":  update.ProductName,
		"quantity": quantity,
	}))
	return order, nil
}

// auditMeta tags audit metadata with the session and node that made the call.
func auditMeta(ctx context.Context, meta map[string]interface{}) map[string]interface{} {
	if ec := tools.ExecContextFromContext(ctx); ec != nil {
		meta["session_id"] = ec.SessionID
		meta["node"] = ec.Node
	}
	return meta
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func floatArg(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func itemsArg(args map[string]any, key string) ([]Item, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", key)
	}

	items := make([]Item, 0, len(list))
	for i, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", key, i)
		}
		quantity, err := intArg(obj, "quantity")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		price, err := floatArg(obj, "unit_price")
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		items = append(items, Item{
			ProductName: stringArg(obj, "product_name"),
			Quantity:    quantity,
			UnitPrice:   price,
			Details:     stringArg(obj, "details"),
		})
	}
	return items, nil
}
