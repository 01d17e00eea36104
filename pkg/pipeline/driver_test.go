package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factforge/factforge/pkg/agent"
	"github.com/factforge/factforge/pkg/report"
	"github.com/factforge/factforge/pkg/topics"
)

// scriptedGenerator returns canned reports and records the contexts it saw.
type scriptedGenerator struct {
	mu       sync.Mutex
	reports  []string
	calls    int
	contexts []string
	blobs    []string
	err      error
}

func (g *scriptedGenerator) Generate(_ context.Context, irContext, _, evalBlob string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", "", g.err
	}
	i := g.calls
	g.calls++
	g.contexts = append(g.contexts, irContext)
	g.blobs = append(g.blobs, evalBlob)
	if i >= len(g.reports) {
		i = len(g.reports) - 1
	}
	return g.reports[i], fmt.Sprintf("gen note %d", i), nil
}

// scriptedEvaluator replays a fixed sequence of evaluations.
type scriptedEvaluator struct {
	mu     sync.Mutex
	rounds []scriptedRound
	calls  int
	status report.Status
	best   report.BestReport
	err    error
}

type scriptedRound struct {
	status    report.Status
	score     int
	questions []agent.Question
}

func (e *scriptedEvaluator) Evaluate(_ context.Context, reportText, _, _ string) (report.Evaluation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return report.Evaluation{}, e.err
	}
	r := e.rounds[e.calls]
	e.calls++
	e.status = r.status
	if r.score >= e.best.Score {
		e.best = report.BestReport{Report: reportText, Score: r.score}
	}
	return report.Evaluation{
		Note:      "eval note",
		Questions: r.questions,
		Rubric:    fmt.Sprintf(`{"score":%d}`, r.score),
	}, nil
}

func (e *scriptedEvaluator) Status() report.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *scriptedEvaluator) Best() report.BestReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.best
}

func oneQuestion() []agent.Question {
	return []agent.Question{{Question: "q", Context: "c"}}
}

func newDriver(gen *scriptedGenerator, eval *scriptedEvaluator, buildContext ContextFunc) *Driver {
	return &Driver{
		NewGenerator: func(string, int) (Generator, error) { return gen, nil },
		NewEvaluator: func(string, int) (Evaluator, error) { return eval, nil },
		BuildContext: buildContext,
	}
}

func singleTopic() []topics.Topic {
	return []topics.Topic{{DocID: "doc-1", Serialized: `{"docid":"doc-1"}`}}
}

func TestDriverPassesFirstRound(t *testing.T) {
	gen := &scriptedGenerator{reports: []string{"round0 report"}}
	eval := &scriptedEvaluator{rounds: []scriptedRound{
		{status: report.StatusPass, score: 50},
	}}
	contextCalls := 0
	d := newDriver(gen, eval, func(context.Context, []agent.Question, int) (string, error) {
		contextCalls++
		return "", nil
	})

	results, err := d.Run(context.Background(), singleTopic())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, TopicResult{ID: "doc-1", Report: "round0 report", Score: 50}, results[0])
	// Round 0 never fetches context.
	assert.Equal(t, 0, contextCalls)
	assert.Equal(t, 1, gen.calls)
}

func TestDriverFailedThenRecovered(t *testing.T) {
	gen := &scriptedGenerator{reports: []string{"r0", "r1", "r2"}}
	eval := &scriptedEvaluator{rounds: []scriptedRound{
		{status: report.StatusFail, score: 22, questions: oneQuestion()},
		{status: report.StatusFail, score: 40, questions: oneQuestion()},
		{status: report.StatusPass, score: 50},
	}}
	var contextRounds []int
	d := newDriver(gen, eval, func(_ context.Context, qs []agent.Question, num int) (string, error) {
		contextRounds = append(contextRounds, len(qs))
		return fmt.Sprintf("context after %d builds", len(contextRounds)), nil
	})

	results, err := d.Run(context.Background(), singleTopic())
	require.NoError(t, err)
	assert.Equal(t, TopicResult{ID: "doc-1", Report: "r2", Score: 50}, results[0])

	// Context was built for rounds 1 and 2, from the evaluator's questions.
	assert.Equal(t, []int{1, 1}, contextRounds)
	// Round 0 saw no context, later rounds saw the fresh blobs.
	require.Len(t, gen.contexts, 3)
	assert.Empty(t, gen.contexts[0])
	assert.Equal(t, "context after 1 builds", gen.contexts[1])
	assert.Equal(t, "context after 2 builds", gen.contexts[2])
	// Round 0 got the seed evaluation; later rounds got the rubric blob.
	assert.Equal(t, initialEvaluation, gen.blobs[0])
	assert.Equal(t, `{"score":22}`, gen.blobs[1])
}

func TestDriverRoundBudget(t *testing.T) {
	gen := &scriptedGenerator{reports: []string{"r"}}
	eval := &scriptedEvaluator{rounds: []scriptedRound{
		{status: report.StatusFail, score: 10, questions: oneQuestion()},
		{status: report.StatusFail, score: 20, questions: oneQuestion()},
		{status: report.StatusFail, score: 30, questions: oneQuestion()},
	}}
	d := newDriver(gen, eval, func(context.Context, []agent.Question, int) (string, error) {
		return "ctx", nil
	})

	results, err := d.Run(context.Background(), singleTopic())
	require.NoError(t, err)
	assert.Equal(t, MaxRounds, gen.calls)
	// Nothing passed; the best-scored report is still emitted.
	assert.Equal(t, 30, results[0].Score)
}

func TestDriverContextFailureContinuesWithStale(t *testing.T) {
	gen := &scriptedGenerator{reports: []string{"r0", "r1"}}
	eval := &scriptedEvaluator{rounds: []scriptedRound{
		{status: report.StatusFail, score: 10, questions: oneQuestion()},
		{status: report.StatusPass, score: 50},
	}}
	d := newDriver(gen, eval, func(context.Context, []agent.Question, int) (string, error) {
		return "", fmt.Errorf("daemon lost")
	})

	results, err := d.Run(context.Background(), singleTopic())
	require.NoError(t, err)
	// Generator still ran both rounds despite the failed retrieval.
	assert.Equal(t, 2, gen.calls)
	assert.Equal(t, 50, results[0].Score)
}

func TestDriverStopOnNoQuestions(t *testing.T) {
	gen := &scriptedGenerator{reports: []string{"r"}}
	eval := &scriptedEvaluator{rounds: []scriptedRound{
		{status: report.StatusFail, score: 10, questions: nil},
	}}
	d := newDriver(gen, eval, func(context.Context, []agent.Question, int) (string, error) {
		t.Fatal("context should not be built")
		return "", nil
	})
	d.StopOnNoQuestions = true

	results, err := d.Run(context.Background(), singleTopic())
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, 10, results[0].Score)
}

func TestDriverGeneratorFailureEmitsBestSoFar(t *testing.T) {
	gen := &scriptedGenerator{err: fmt.Errorf("provider down")}
	eval := &scriptedEvaluator{}
	d := newDriver(gen, eval, func(context.Context, []agent.Question, int) (string, error) {
		return "", nil
	})

	results, err := d.Run(context.Background(), singleTopic())
	require.NoError(t, err)
	assert.Equal(t, TopicResult{ID: "doc-1"}, results[0])
}

func TestDriverRunsTopicsConcurrently(t *testing.T) {
	ts := []topics.Topic{
		{DocID: "doc-a", Serialized: "{}"},
		{DocID: "doc-b", Serialized: "{}"},
		{DocID: "doc-c", Serialized: "{}"},
	}
	d := &Driver{
		NewGenerator: func(string, int) (Generator, error) {
			return &scriptedGenerator{reports: []string{"r"}}, nil
		},
		NewEvaluator: func(string, int) (Evaluator, error) {
			return &scriptedEvaluator{rounds: []scriptedRound{{status: report.StatusPass, score: 42}}}, nil
		},
		BuildContext: func(context.Context, []agent.Question, int) (string, error) { return "", nil },
	}

	results, err := d.Run(context.Background(), ts)
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Input order is preserved in the output regardless of scheduling.
	assert.Equal(t, "doc-a", results[0].ID)
	assert.Equal(t, "doc-b", results[1].ID)
	assert.Equal(t, "doc-c", results[2].ID)
	for _, r := range results {
		assert.Equal(t, 42, r.Score)
	}
}
