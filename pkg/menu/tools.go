package menu

import (
	"context"
	"fmt"
	"os"

	"github.com/harun/menubot/pkg/tools"
)

// Tool names.
const (
	ToolGetMenu        = "get_menu"
	ToolSendMenuImages = "send_menu_images"
)

// RegisterTools adds the menu tools to reg. A nil sender keeps
// send_menu_images registered but failing, so agents learn that images are
// unavailable instead of seeing an unknown tool.
func RegisterTools(reg *tools.Registry, store *Store, sender ImageSender) error {
	h := &toolHandlers{store: store, sender: sender}

	defs := []tools.Definition{
		{
			Name:        ToolGetMenu,
			Description: "Return the restaurant menu with product names and prices, optionally for one category.",
			Parameters: []tools.Parameter{
				{Name: "category", Type: "string", Description: "Category to return, e.g. burgers or drinks"},
			},
			Handler: h.getMenu,
		},
		{
			Name:        ToolSendMenuImages,
			Description: "Send the menu pictures to the customer's WhatsApp chat.",
			Parameters: []tools.Parameter{
				{Name: "phone", Type: "string", Description: "Customer phone number", Required: true, Injected: true},
			},
			Handler: h.sendImages,
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
	store  *Store
	sender ImageSender
}

func (h *toolHandlers) getMenu(ctx context.Context, args map[string]any) (any, error) {
	catalog := h.store.Catalog()
	if name, _ := args["category"].(string); name != "" {
		cat, ok := catalog.Category(name)
		if !ok {
			names := make([]string, 0, len(catalog.Categories))
			for _, c := range catalog.Categories {
				names = append(names, c.Name)
			}
			return nil, fmt.Errorf("unknown category %q, available: %v", name, names)
		}
		return map[string]any{"restaurant": catalog.Restaurant, "currency": catalog.Currency, "categories": []Category{cat}}, nil
	}
	return catalog, nil
}

func (h *toolHandlers) sendImages(ctx context.Context, args map[string]any) (any, error) {
	if h.sender == nil {
		return nil, fmt.Errorf("menu images cannot be sent right now")
	}
	phone, _ := args["phone"].(string)

	catalog := h.store.Catalog()
	if len(catalog.Images) == 0 {
		return nil, fmt.Errorf("no menu images available")
	}

	uploads := make([]Upload, 0, len(catalog.Images))
	for _, img := range catalog.Images {
		data, err := os.ReadFile(catalog.ImagePath(img))
		if err != nil {
			return nil, fmt.Errorf("failed to read menu image %s: %w", img.Path, err)
		}
		if len(data) == 0 {
			continue
		}
		uploads = append(uploads, Upload{Data: data, Caption: img.Caption})
	}
	if len(uploads) == 0 {
		return nil, fmt.Errorf("no menu images available")
	}

	sent, err := h.sender.SendImages(ctx, phone, uploads)
	if err != nil {
		return nil, fmt.Errorf("sent %d of %d images: %w", sent, len(uploads), err)
	}
	return map[string]any{"sent": sent, "message": "menu images sent"}, nil
}
