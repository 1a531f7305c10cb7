package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/harun/menubot/pkg/conversation"
)

// intentLabels is the vocabulary the classifier may answer with.
var intentLabels = []conversation.NodeID{
	conversation.NodeConversation,
	conversation.NodeOrderData,
	conversation.NodeUpdateOrder,
	conversation.NodePQRS,
	conversation.NodeShowMenu,
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	// Labels contain underscores, so \b alone would match inside longer
	// identifiers; the surrounding class excludes word characters instead.
	labelPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9_])(conversation|order_data|update_order|pqrs|show_menu)(?:_agent)?(?:$|[^a-z0-9_])`)
)

// ClassifyIntent maps the classifier's reply to a node label. JSON answers
// are read first, then the raw text is scanned for a known label; anything
// else is a conversation.
func ClassifyIntent(text string) conversation.NodeID {
	label, _ := parseIntent(text)
	return label
}

// parseIntent reports false when the reply held no recognizable label.
func parseIntent(text string) (conversation.NodeID, bool) {
	if label, ok := intentFromJSON(text); ok {
		return label, true
	}
	if label, ok := scanLabel(text); ok {
		return label, true
	}
	return conversation.NodeConversation, false
}

func intentFromJSON(text string) (conversation.NodeID, bool) {
	for _, m := range fencedJSON.FindAllStringSubmatch(text, -1) {
		if label, ok := labelFromObject(m[1]); ok {
			return label, true
		}
	}

	for i := strings.IndexByte(text, '{'); i >= 0; {
		var obj map[string]any
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&obj); err == nil {
			if label, ok := labelFromMap(obj); ok {
				return label, true
			}
		}
		next := strings.IndexByte(text[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return "", false
}

func labelFromObject(raw string) (conversation.NodeID, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", false
	}
	return labelFromMap(obj)
}

func labelFromMap(obj map[string]any) (conversation.NodeID, bool) {
	for _, key := range []string{"node", "intention", "response"} {
		s, ok := obj[key].(string)
		if !ok || s == "" {
			continue
		}
		if label, ok := normalizeLabel(s); ok {
			return label, true
		}
	}
	return "", false
}

// normalizeLabel accepts a bare label in any case, with or without the
// _agent suffix.
func normalizeLabel(s string) (conversation.NodeID, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "_agent")
	for _, label := range intentLabels {
		if string(label) == s {
			return label, true
		}
	}
	return "", false
}

func scanLabel(text string) (conversation.NodeID, bool) {
	m := labelPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return normalizeLabel(m[1])
}
