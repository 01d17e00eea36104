package proctor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factforge/factforge/pkg/agent"
)

func questions(n int) []agent.Question {
	qs := make([]agent.Question, n)
	for i := range qs {
		qs[i] = agent.Question{
			Question: fmt.Sprintf("question %d", i),
			Context:  fmt.Sprintf("context %d", i),
		}
	}
	return qs
}

func TestCreateContextOrdersResultsByBatch(t *testing.T) {
	contextPath := filepath.Join(t.TempDir(), "context-0.txt")
	p := New(func(_ context.Context, qs string) (agent.Result, error) {
		// Echo the first question back so batch identity is visible.
		first := strings.SplitN(qs, "\n", 2)[0]
		return agent.Result{Summary: first, Status: agent.StatusFinished}, nil
	}, contextPath)
	p.stagger = 0

	require.NoError(t, p.CreateContext(context.Background(), questions(6)))

	data, err := os.ReadFile(contextPath)
	require.NoError(t, err)
	parts := strings.Split(string(data), batchSeparator)
	require.Len(t, parts, 3)
	// Batch order is preserved regardless of which worker ran which batch.
	for i, part := range parts {
		var result agent.Result
		require.NoError(t, json.Unmarshal([]byte(part), &result))
		assert.Contains(t, result.Summary, fmt.Sprintf("question %d", i*BatchSize))
	}
}

func TestCreateContextBatchesOfTwo(t *testing.T) {
	var mu sync.Mutex
	var batchSizes []int
	p := New(func(_ context.Context, qs string) (agent.Result, error) {
		mu.Lock()
		batchSizes = append(batchSizes, len(strings.Split(qs, "\n")))
		mu.Unlock()
		return agent.Result{Status: agent.StatusFinished}, nil
	}, filepath.Join(t.TempDir(), "context-0.txt"))
	p.stagger = 0

	require.NoError(t, p.CreateContext(context.Background(), questions(5)))
	assert.ElementsMatch(t, []int{2, 2, 1}, batchSizes)
}

func TestCreateContextFailedBatchGetsSentinel(t *testing.T) {
	contextPath := filepath.Join(t.TempDir(), "context-0.txt")
	var calls atomic.Int32
	p := New(func(_ context.Context, qs string) (agent.Result, error) {
		if calls.Add(1) == 1 {
			return agent.Result{}, fmt.Errorf("daemon lost")
		}
		return agent.Result{Summary: "fine", Status: agent.StatusFinished}, nil
	}, contextPath)
	p.stagger = 0

	require.NoError(t, p.CreateContext(context.Background(), questions(4)))

	data, err := os.ReadFile(contextPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "question batch failed: daemon lost")
	assert.Contains(t, string(data), `"fine"`)
}

func TestCreateContextBoundsConcurrency(t *testing.T) {
	var current, peak atomic.Int32
	p := New(func(_ context.Context, _ string) (agent.Result, error) {
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return agent.Result{Status: agent.StatusFinished}, nil
	}, filepath.Join(t.TempDir(), "context-0.txt"))
	p.stagger = 0

	require.NoError(t, p.CreateContext(context.Background(), questions(30)))
	assert.LessOrEqual(t, peak.Load(), int32(MaxWorkers))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestCreateContextNoQuestionsIsNoop(t *testing.T) {
	contextPath := filepath.Join(t.TempDir(), "context-0.txt")
	p := New(func(_ context.Context, _ string) (agent.Result, error) {
		t.Fatal("should not run")
		return agent.Result{}, nil
	}, contextPath)

	require.NoError(t, p.CreateContext(context.Background(), nil))
	_, err := os.Stat(contextPath)
	assert.True(t, os.IsNotExist(err))
}

func TestCreateContextAppends(t *testing.T) {
	contextPath := filepath.Join(t.TempDir(), "context-0.txt")
	p := New(func(_ context.Context, _ string) (agent.Result, error) {
		return agent.Result{Summary: "round", Status: agent.StatusFinished}, nil
	}, contextPath)
	p.stagger = 0

	require.NoError(t, p.CreateContext(context.Background(), questions(1)))
	require.NoError(t, p.CreateContext(context.Background(), questions(1)))

	data, err := os.ReadFile(contextPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), `"round"`))
}
