// Package search composes the BM25 daemon and the rerank service into the
// retrieval step used by IR agents.
package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/factforge/factforge/pkg/rerank"
)

// rerankPoolSize is how many candidates the rerank service scores per search.
const rerankPoolSize = 75

// DefaultTopK is how many reranked hits a search returns to the agent.
const DefaultTopK = 15

// Hit is the metadata projection handed back to the IR agent. The segment
// text itself is fetched later, only for the ids the agent selects.
// Headings passes through verbatim — the corpus stores it as either a
// string or a list.
type Hit struct {
	Title     string          `json:"title"`
	URL       string          `json:"url"`
	Headings  json.RawMessage `json:"headings"`
	SegmentID string          `json:"segment_id"`
}

// candidate is one JSONL record from the daemon's BM25 output.
type candidate struct {
	Segment  string          `json:"segment"`
	Title    string          `json:"title"`
	URL      string          `json:"url"`
	Headings json.RawMessage `json:"headings"`
	DocID    string          `json:"docid"`
}

// RerankGate throttles rerank traffic; satisfied by ratelimit.Gateway.
type RerankGate interface {
	GatedRerank(ctx context.Context, fn func(context.Context) error) error
}

// BM25Runner is the lexical-search surface; satisfied by searchd.Daemon.
type BM25Runner interface {
	RunBM25Search(ctx context.Context, queries []string, outPath string) error
}

// Searcher runs the BM25 → rerank pipeline.
type Searcher struct {
	daemon      BM25Runner
	reranker    *rerank.Client
	gate        RerankGate
	resultsPath string
	topK        int
}

// NewSearcher creates a searcher writing BM25 scratch files under
// resultsPath. topK ≤ 0 uses DefaultTopK.
func NewSearcher(daemon BM25Runner, reranker *rerank.Client, gate RerankGate, resultsPath string, topK int) *Searcher {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Searcher{
		daemon:      daemon,
		reranker:    reranker,
		gate:        gate,
		resultsPath: resultsPath,
		topK:        topK,
	}
}

// Search runs the BM25 queries, reranks the candidates against masterQuery,
// and returns the topK hits. Scratch output lands in the agent's own
// directory so concurrent agents never collide.
func (s *Searcher) Search(ctx context.Context, queries []string, masterQuery, agentID string) ([]Hit, error) {
	dir := filepath.Join(s.resultsPath, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("results-%s.jsonl", uuid.NewString()))

	if err := s.daemon.RunBM25Search(ctx, queries, path); err != nil {
		return nil, fmt.Errorf("bm25 search failed: %w", err)
	}

	candidates, err := readCandidates(path)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	segments := make([]string, len(candidates))
	for i, c := range candidates {
		segments[i] = c.Segment
	}

	var resp *rerank.Response
	err = s.gate.GatedRerank(ctx, func(ctx context.Context) error {
		var rerr error
		resp, rerr = s.reranker.Rerank(ctx, rerank.Request{
			Query:     masterQuery,
			Documents: segments,
			TopN:      rerankPoolSize,
		})
		return rerr
	})
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	ranked := append([]rerank.Result(nil), resp.Results...)
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	if len(ranked) > s.topK {
		ranked = ranked[:s.topK]
	}

	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		c := candidates[r.Index]
		hits = append(hits, Hit{
			Title:     c.Title,
			URL:       c.URL,
			Headings:  c.Headings,
			SegmentID: c.DocID,
		})
	}
	return hits, nil
}

// readCandidates parses the daemon's JSONL output. Undecodable lines are
// skipped — a partially-written record should not sink the whole search.
func readCandidates(path string) ([]candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bm25 results: %w", err)
	}
	defer f.Close()

	var out []candidate
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c candidate
		if err := json.Unmarshal(line, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bm25 results: %w", err)
	}
	return out, nil
}
