package menu

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default_menu.yaml
var defaultMenu []byte

// Product is a sellable menu entry.
type Product struct {
	Name        string   `yaml:"name" json:"name"`
	Price       float64  `yaml:"price" json:"price"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Includes    []string `yaml:"includes,omitempty" json:"includes,omitempty"`
}

// Category groups products.
type Category struct {
	Name  string    `yaml:"name" json:"name"`
	Items []Product `yaml:"items" json:"items"`
}

// Image is a picture of the menu sent to customers.
type Image struct {
	// Path is relative to the catalog file unless absolute.
	Path    string `yaml:"path" json:"path"`
	Caption string `yaml:"caption" json:"caption"`
}

// Catalog is the restaurant menu.
type Catalog struct {
	Restaurant string     `yaml:"restaurant" json:"restaurant"`
	Currency   string     `yaml:"currency,omitempty" json:"currency,omitempty"`
	Categories []Category `yaml:"categories" json:"categories"`
	Images     []Image    `yaml:"images,omitempty" json:"-"`

	dir string
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse menu: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultMenu)
	if err != nil {
		panic(fmt.Sprintf("built-in menu is invalid: %v", err))
	}
	return c
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.dir = filepath.Dir(path)
	return c, nil
}

// Validate checks that every category and product is named and priced.
func (c *Catalog) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("menu has no categories")
	}
	seen := map[string]bool{}
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("menu category without name")
		}
		for _, p := range cat.Items {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("product without name in %s", cat.Name)
			}
			if p.Price < 0 {
				return fmt.Errorf("product %s has a negative price", p.Name)
			}
			key := strings.ToLower(p.Name)
			if seen[key] {
				return fmt.Errorf("duplicate product %s", p.Name)
			}
			seen[key] = true
		}
	}
	for _, img := range c.Images {
		if img.Path == "" {
			return fmt.Errorf("menu image without path")
		}
	}
	return nil
}

// Find looks a product up by name, ignoring case.
func (c *Catalog) Find(name string) (Product, bool) {
	for _, cat := range c.Categories {
		for _, p := range cat.Items {
			if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
				return p, true
			}
		}
	}
	return Product{}, false
}

// Category returns the named category, ignoring case.
func (c *Catalog) Category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Name, strings.TrimSpace(name)) {
			return cat, true
		}
	}
	return Category{}, false
}

// ImagePath resolves an image path against the catalog directory.
func (c *Catalog) ImagePath(img Image) string {
	if filepath.IsAbs(img.Path) || c.dir == "" {
		return img.Path
	}
	return filepath.Join(c.dir, img.Path)
}

// Store holds the current catalog and swaps it on reload.
type Store struct {
	mu      sync.RWMutex
	catalog *Catalog
	path    string
}

// NewStore loads the catalog at path, or the built-in menu when path is empty.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		s.catalog = Default()
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Catalog returns the current catalog. Callers must not modify it.
func (s *Store) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the file. The previous catalog stays when the file is invalid.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	c, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.catalog = c
	s.mu.Unlock()
	return nil
}
