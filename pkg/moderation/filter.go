// Package moderation screens inbound customer messages before they reach the
// model.
package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrBlocked is wrapped by every rejection so callers can tell a blocked
// message apart from a malformed filter.
var ErrBlocked = errors.New("message blocked")

// DefaultPatterns catch the common attempts to override the assistant's
// instructions.
var DefaultPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
	`(?i)ignora\s+(todas\s+)?(las\s+)?instrucciones\s+(anteriores|previas)`,
	`(?i)system\s+prompt`,
}

// Config selects what the filter rejects.
type Config struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
}

// Filter checks content against configured keywords and patterns.
type Filter struct {
	enabled  bool
	keywords []string
	patterns []*regexp.Regexp
}

// New compiles the configured patterns.
func New(cfg Config) (*Filter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, strings.ToLower(kw))
		}
	}

	return &Filter{
		enabled:  cfg.Enabled,
		keywords: keywords,
		patterns: patterns,
	}, nil
}

// Enabled reports whether the filter rejects anything.
func (f *Filter) Enabled() bool {
	return f != nil && f.enabled
}

// CheckMessage returns an error wrapping ErrBlocked if content is rejected.
func (f *Filter) CheckMessage(content string) error {
	if !f.Enabled() {
		return nil
	}

	normalized := strings.ToLower(content)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, kw) {
			return fmt.Errorf("%w: keyword %q", ErrBlocked, kw)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(content) {
			return fmt.Errorf("%w: pattern #%d", ErrBlocked, i+1)
		}
	}
	return nil
}
