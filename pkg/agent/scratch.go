package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// toolOutputMaxChars bounds how much of a tool result is fed back into the
// next LLM turn. Keeps prompt growth bounded across rounds.
const toolOutputMaxChars = 2500

// ensureFile creates the file's directory and the file itself if missing.
func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// appendFile appends msg to the file at path.
func appendFile(path, msg string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(msg)
	return err
}

// truncateToolOutput cuts tool output at toolOutputMaxChars, backing up to a
// line boundary when possible so indented JSON is not split mid-line. The
// full payload still lands in Tools.txt; only the prompt copy is bounded.
func truncateToolOutput(content string) string {
	if len(content) <= toolOutputMaxChars {
		return content
	}
	cut := toolOutputMaxChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > 0 {
		truncated = truncated[:idx]
	}
	return truncated + fmt.Sprintf("\n[TRUNCATED: tool output was %d chars, limit %d]",
		len(content), toolOutputMaxChars)
}
