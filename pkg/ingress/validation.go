package ingress

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/harun/menubot/internal/observability"
)

// MaxContentLength is the longest accepted message, in characters.
const MaxContentLength = 4000

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

var (
	errInvalidPhone   = errors.New("phone must have 7 to 15 digits and an optional leading +")
	errEmptyContent   = errors.New("message content is empty")
	errContentTooLong = errors.New("message content exceeds 4000 characters")
	errNoUserMessage  = errors.New("no user message in request")
	errBlockedContent = errors.New("message content is not allowed")
)

// normalizePhone validates phone and strips the leading plus so one customer
// maps to one subject id however the bridge formats the number.
func normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if !phonePattern.MatchString(phone) {
		return "", errInvalidPhone
	}
	return strings.TrimPrefix(phone, "+"), nil
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return "", errEmptyContent
	case utf8.RuneCountInString(content) > MaxContentLength:
		return "", errContentTooLong
	}
	return content, nil
}

// lastUserMessage returns the raw content of the final user message.
func lastUserMessage(msgs []chatMessage) (string, error) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.EqualFold(msgs[i].Role, "user") {
			return msgs[i].Content, nil
		}
	}
	return "", errNoUserMessage
}

// screen validates content and runs it through the configured filter.
func (s *Server) screen(content string) (string, error) {
	content, err := validateContent(content)
	if err != nil {
		return "", err
	}
	if s.filter == nil {
		return content, nil
	}
	if err := s.filter.CheckMessage(content); err != nil {
		s.logger.Warn().Err(err).Msg("Message rejected by content filter")
		observability.RecordFilteredMessage()
		return "", errBlockedContent
	}
	return content, nil
}
