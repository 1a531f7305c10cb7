package logger

import (
	"io"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

type rule struct {
	pattern *regexp.Regexp
	replace func(string) string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	rules []rule
}

func redactAll(string) string { return redacted }

// maskPhone keeps the last four digits.
func maskPhone(s string) string {
	digits := strings.TrimPrefix(s, "+")
	if len(digits) <= 4 {
		return s
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	r := &Redactor{}
	for _, p := range []string{
		// API keys
		`sk-ant-[a-zA-Z0-9_-]{20,}`,
		`sk-[a-zA-Z0-9_-]{20,}`,
		// Bearer tokens
		`Bearer\s+[a-zA-Z0-9._-]+`,
		// Passwords and secrets
		`password["\s:=]+[^\s"]+`,
		`secret["\s:=]+[^\s"]+`,
		// Auth tokens
		`token["\s:=]+[a-zA-Z0-9._-]{20,}`,
		// AWS keys
		`AKIA[0-9A-Z]{16}`,
	} {
		r.rules = append(r.rules, rule{pattern: regexp.MustCompile(p), replace: redactAll})
	}
	// Phone numbers: 10 to 15 digits, optional leading +.
	r.rules = append(r.rules, rule{
		pattern: regexp.MustCompile(`\+?\b[0-9]{10,15}\b`),
		replace: maskPhone,
	})
	return r
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replace: redactAll})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.pattern.ReplaceAllStringFunc(s, rl.replace)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write when
// redaction changes the length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
