package menu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMenu = `
restaurant: La Esquina
currency: COP
categories:
  - name: empanadas
    items:
      - name: Empanada de Carne
        price: 3500
      - name: Empanada de Pollo
        price: 3500
images:
  - path: images/menu.png
    caption: Menú del día
`

func writeMenu(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.NotEmpty(t, c.Categories)

	p, ok := c.Find("hamburguesa doble")
	require.True(t, ok)
	assert.InDelta(t, 7.99, p.Price, 0.001)

	combos, ok := c.Category("COMBOS")
	require.True(t, ok)
	assert.Len(t, combos.Items[0].Includes, 3)
}

func TestParse(t *testing.T) {
	t.Run("should parse a valid catalog", func(t *testing.T) {
		c, err := Parse([]byte(sampleMenu))
		require.NoError(t, err)
		assert.Equal(t, "La Esquina", c.Restaurant)
		assert.Len(t, c.Images, 1)
	})

	for name, content := range map[string]string{
		"no categories":     "restaurant: x\n",
		"unnamed product":   "categories:\n  - name: a\n    items:\n      - price: 1\n",
		"negative price":    "categories:\n  - name: a\n    items:\n      - name: b\n        price: -1\n",
		"duplicate product": "categories:\n  - name: a\n    items:\n      - name: b\n      - name: B\n",
		"invalid yaml":      "categories: [",
	} {
		t.Run("should reject "+name, func(t *testing.T) {
			_, err := Parse([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	c, err := LoadFile(writeMenu(t, dir, sampleMenu))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "images", "menu.png"), c.ImagePath(c.Images[0]))
	assert.Equal(t, "/abs/menu.png", c.ImagePath(Image{Path: "/abs/menu.png"}))
}

func TestStore_Reload(t *testing.T) {
	dir := t.TempDir()
	path := writeMenu(t, dir, sampleMenu)

	store, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, "La Esquina", store.Catalog().Restaurant)

	t.Run("should keep the previous catalog on invalid content", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("categories: ["), 0600))
		assert.Error(t, store.Reload())
		assert.Equal(t, "La Esquina", store.Catalog().Restaurant)
	})

	t.Run("should fall back to the built-in menu without a path", func(t *testing.T) {
		s, err := NewStore("")
		require.NoError(t, err)
		assert.NoError(t, s.Reload())
		assert.Equal(t, Default().Restaurant, s.Catalog().Restaurant)
	})
}
