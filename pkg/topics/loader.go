// Package topics loads the input topic file: one JSON object per line, each
// carrying at least a docid plus the article fields that make up the topic
// prompt.
package topics

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// maxLineBytes allows for long article bodies on a single JSONL line.
const maxLineBytes = 4 * 1024 * 1024

// Topic is one document to fact-check.
type Topic struct {
	// DocID is the corpus identifier carried through to the results file.
	DocID string
	// Serialized is the full topic object as it appeared on its input line;
	// used verbatim as the topic prompt.
	Serialized string
}

// Load reads topics from a JSONL file. offset skips that many leading
// topics; limit caps how many are returned (0 means no cap). A line without
// a non-empty docid is an error, not a skip: a topic that cannot be keyed
// would silently vanish from the results file.
func Load(path string, offset, limit int) ([]Topic, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topics file: %w", err)
	}
	defer f.Close()

	var out []Topic
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	seen := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fields struct {
			DocID string `json:"docid"`
		}
		if err := json.Unmarshal(line, &fields); err != nil {
			return nil, fmt.Errorf("topics file line %d: %w", lineNo, err)
		}
		if fields.DocID == "" {
			return nil, fmt.Errorf("topics file line %d: missing docid", lineNo)
		}
		seen++
		if seen <= offset {
			continue
		}
		out = append(out, Topic{DocID: fields.DocID, Serialized: string(line)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topics file: %w", err)
	}
	return out, nil
}
