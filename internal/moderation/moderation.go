// Package moderation is a cursory keyword screen over user messages. It is
// not a content classifier.
package moderation

import (
	"strings"
	"unicode"

	"github.com/felipepmaragno/tourai/internal/domain"
)

var DefaultKeywords = []string{
	"explosive",
	"weapon",
	"terrorism",
	"human trafficking",
	"counterfeit",
}

type Screen struct {
	keywords []string
}

// New builds a screen from keywords; an empty list selects DefaultKeywords.
func New(keywords []string) *Screen {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	normalized := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if n := normalize(k); n != "" {
			normalized = append(normalized, n)
		}
	}
	return &Screen{keywords: normalized}
}

// Check matches whole words only, so "scam" does not block "scampi".
// System and assistant messages are not screened.
func (s *Screen) Check(messages []domain.Message) error {
	for _, m := range messages {
		if m.Role != domain.RoleUser {
			continue
		}
		text := " " + normalize(m.Content) + " "
		for _, k := range s.keywords {
			if strings.Contains(text, " "+k+" ") {
				return domain.InvalidInput("message blocked by content screen")
			}
		}
	}
	return nil
}

func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}
