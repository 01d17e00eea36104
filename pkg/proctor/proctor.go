// Package proctor fans a round's IR questions out to a bounded worker pool
// and assembles the per-topic evidence context from the results.
package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/factforge/factforge/pkg/agent"
)

const (
	// MaxWorkers bounds how many IR agents run in parallel for one topic.
	MaxWorkers = 5
	// StaggerDelay offsets each worker's first start so their search, select
	// and update phases stay out of phase on the shared stage buckets.
	StaggerDelay = time.Second
	// BatchSize is how many questions one IR agent answers.
	BatchSize = 2
)

// batchSeparator divides per-batch results in the assembled context blob.
const batchSeparator = "\n===================================\n"

// BatchFunc runs one IR agent over a serialized question batch. Supplied by
// the pipeline runtime; faked in tests.
type BatchFunc func(ctx context.Context, questions string) (agent.Result, error)

// Proctor drives one round of context building for a topic.
type Proctor struct {
	run         BatchFunc
	contextPath string
	stagger     time.Duration
}

// New creates a proctor appending to the given per-topic context file.
func New(run BatchFunc, contextPath string) *Proctor {
	return &Proctor{run: run, contextPath: contextPath, stagger: StaggerDelay}
}

// CreateContext splits questions into batches, runs them on the worker pool,
// and appends the concatenated results to the context file in batch order.
// A failed batch contributes an error sentinel; the others are unaffected.
func (p *Proctor) CreateContext(ctx context.Context, questions []agent.Question) error {
	if len(questions) == 0 {
		return nil
	}

	batches := splitBatches(questions, BatchSize)
	results := make([]string, len(batches))

	jobs := make(chan int, len(batches))
	for i := range batches {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < MaxWorkers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Only the first start of each worker is staggered; once a
			// worker is in its loop the natural phase offset persists.
			if w > 0 && p.stagger > 0 {
				select {
				case <-time.After(time.Duration(w) * p.stagger):
				case <-ctx.Done():
					return
				}
			}
			for idx := range jobs {
				results[idx] = p.processBatch(ctx, batches[idx])
			}
		}()
	}
	wg.Wait()

	var nonEmpty []string
	for _, r := range results {
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	blob := strings.Join(nonEmpty, batchSeparator)
	if err := appendFile(p.contextPath, blob); err != nil {
		return fmt.Errorf("failed to append context file: %w", err)
	}
	return nil
}

// processBatch serializes one batch as newline-joined JSON questions, runs
// the agent, and renders its result for the context blob.
func (p *Proctor) processBatch(ctx context.Context, batch []agent.Question) string {
	lines := make([]string, 0, len(batch))
	for _, q := range batch {
		line, err := json.Marshal(q)
		if err != nil {
			continue
		}
		lines = append(lines, string(line))
	}

	result, err := p.run(ctx, strings.Join(lines, "\n"))
	if err != nil {
		slog.Warn("Question batch failed", "error", err)
		sentinel, _ := json.Marshal(map[string]string{"error": "question batch failed: " + err.Error()})
		return string(sentinel)
	}
	rendered, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(rendered)
}

func splitBatches(questions []agent.Question, size int) [][]agent.Question {
	var batches [][]agent.Question
	for i := 0; i < len(questions); i += size {
		end := min(i+size, len(questions))
		batches = append(batches, questions[i:end])
	}
	return batches
}

func appendFile(path, msg string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(msg)
	return err
}
