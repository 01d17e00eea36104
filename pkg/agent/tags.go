package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractTag returns the text between <tag> and </tag>, trimmed, and whether
// both tags were present. Forgiving on purpose: models wrap their structured
// payloads in these tags but occasionally add stray whitespace or prose
// around them.
func ExtractTag(text, tag string) (string, bool) {
	start, end := "<"+tag+">", "</"+tag+">"
	i := strings.Index(text, start)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

// DecodeTagJSON extracts the tag payload and strictly decodes it into v.
// The tag extractor is lenient; the JSON decode is not.
func DecodeTagJSON(text, tag string, v any) error {
	payload, ok := ExtractTag(text, tag)
	if !ok {
		return fmt.Errorf("no <%s> payload in response", tag)
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("invalid JSON in <%s>: %w", tag, err)
	}
	return nil
}
