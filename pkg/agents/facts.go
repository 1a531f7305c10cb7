package agents

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/harun/menubot/pkg/conversation"
	"github.com/harun/menubot/pkg/orders"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").
	Funcs(template.FuncMap{"stamp": func(t time.Time) string { return t.Format(conversation.TimestampLayout) }}).
	ParseFS(promptFS, "prompts/*.tmpl"))

// Facts are the session details prompts and argument injection draw on.
type Facts struct {
	SubjectID      string
	CustomerName   string
	LastAddress    string
	LastOrder      string
	Now            time.Time
	RestaurantName string
}

func (f Facts) withDefaults() Facts {
	if f.LastOrder == "" {
		f.LastOrder = orders.NoPreviousOrder
	}
	if f.RestaurantName == "" {
		f.RestaurantName = "the restaurant"
	}
	if f.Now.IsZero() {
		f.Now = time.Now()
	}
	return f
}

func render(name string, facts Facts) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, facts.withDefaults()); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return b.String(), nil
}
