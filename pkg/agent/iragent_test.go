package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factforge/factforge/pkg/llm"
	"github.com/factforge/factforge/pkg/ratelimit"
	"github.com/factforge/factforge/pkg/search"
)

type gatedCall struct {
	Stage  ratelimit.Stage
	Prompt string
	PrevID string
}

// fakeGateway scripts per-stage responses and records every call.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []gatedCall
	respond func(stage ratelimit.Stage, nth int) (*llm.Response, error)
	counts  map[ratelimit.Stage]int
}

func (f *fakeGateway) GatedResponse(_ context.Context, _ string, stage ratelimit.Stage,
	prompt, _, _, prevID string) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[ratelimit.Stage]int)
	}
	nth := f.counts[stage]
	f.counts[stage]++
	f.calls = append(f.calls, gatedCall{Stage: stage, Prompt: prompt, PrevID: prevID})
	return f.respond(stage, nth)
}

func (f *fakeGateway) stageCalls(stage ratelimit.Stage) []gatedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []gatedCall
	for _, c := range f.calls {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

type fakeSearcher struct {
	hits []search.Hit
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, _ []string, _, _ string) ([]search.Hit, error) {
	return f.hits, f.err
}

type fakeSelector struct {
	segments string
	err      error
	gotIDs   []string
}

func (f *fakeSelector) SelectDocuments(_ context.Context, ids []string, _ bool) (string, error) {
	f.gotIDs = ids
	return f.segments, f.err
}

func wrapAnswer(payload string) string {
	return "<cot>thinking</cot>\n<answer>\n" + payload + "\n</answer>"
}

func searchResponse(id string) *llm.Response {
	return &llm.Response{
		ID:         id,
		OutputText: wrapAnswer(`{"searches":[{"queries":["marco polo"],"master_query":"who was marco polo"}]}`),
	}
}

func selectResponse(id string) *llm.Response {
	return &llm.Response{
		ID:         id,
		OutputText: wrapAnswer(`{"selections":["seg-1"]}`),
	}
}

func updateResponse(id string, finished bool, citation string) *llm.Response {
	payload := AnswerPayload{
		Questions: []QuestionAnswer{{
			Question:   "who was marco polo?",
			DocContext: "the document claims he was a merchant",
			Answer: Answer{
				Text:      "a Venetian merchant and explorer",
				Citations: []Citation{{Summary: "biography", Citation: citation}},
			},
			Finished: finished,
		}},
		Rounds: []RoundSummary{{Summary: "searched biography", SeenIDs: []string{"seg-1"}}},
	}
	raw, _ := json.Marshal(payload)
	return &llm.Response{ID: id, OutputText: wrapAnswer(string(raw))}
}

func newTestAgent(t *testing.T, gw StageCaller, searcher SegmentSearcher, selector DocumentSelector) *Agent {
	t.Helper()
	dir := t.TempDir()
	a, err := New("who was marco polo?", Deps{
		Gateway:     gw,
		Searcher:    searcher,
		Selector:    selector,
		ResultsPath: filepath.Join(dir, "results"),
		ContextFile: filepath.Join(dir, "context-1.txt"),
	})
	require.NoError(t, err)
	return a
}

func TestAgentFinishesInOneRound(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("resp-search"), nil
		case ratelimit.StageSelect:
			return selectResponse("resp-select"), nil
		case ratelimit.StageUpdate:
			return updateResponse("resp-update", true, "seg-1"), nil
		}
		t.Fatalf("unexpected stage %s", stage)
		return nil, nil
	}}
	selector := &fakeSelector{segments: `[{"segment":"Marco Polo was a Venetian merchant."}]`}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1", Title: "Marco Polo"}}}, selector)

	result := a.Run(context.Background())

	assert.Equal(t, StatusFinished, result.Status)
	assert.Empty(t, result.Summary)

	// Finished question committed to the context file, citation intact.
	data, err := os.ReadFile(a.deps.ContextFile)
	require.NoError(t, err)
	var committed QuestionAnswer
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &committed))
	assert.Equal(t, "who was marco polo?", committed.Question)
	require.Len(t, committed.Answer.Citations, 1)
	assert.Equal(t, "seg-1", committed.Answer.Citations[0].Citation)

	// Stage wiring: select and update both chain off the search anchor.
	selects := gw.stageCalls(ratelimit.StageSelect)
	require.Len(t, selects, 1)
	assert.Equal(t, "resp-search", selects[0].PrevID)
	updates := gw.stageCalls(ratelimit.StageUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, "resp-search", updates[0].PrevID)

	assert.Equal(t, []string{"seg-1"}, selector.gotIDs)
}

func TestAgentFirstRoundPromptCarriesQuestions(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("s"), nil
		case ratelimit.StageSelect:
			return selectResponse("sel"), nil
		default:
			return updateResponse("u", true, "seg-1"), nil
		}
	}}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1"}}}, &fakeSelector{segments: "[]"})
	a.Run(context.Background())

	searches := gw.stageCalls(ratelimit.StageSearch)
	require.Len(t, searches, 1)
	assert.Contains(t, searches[0].Prompt, "<questions>who was marco polo?</questions>")
}

func TestAgentDropsUnretrievedCitations(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("s"), nil
		case ratelimit.StageSelect:
			return selectResponse("sel"), nil
		default:
			// Citation points at a segment no search ever returned.
			return updateResponse("u", true, "seg-hallucinated"), nil
		}
	}}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1"}}}, &fakeSelector{segments: "[]"})
	a.Run(context.Background())

	data, err := os.ReadFile(a.deps.ContextFile)
	require.NoError(t, err)
	var committed QuestionAnswer
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &committed))
	assert.Empty(t, committed.Answer.Citations)
}

func TestAgentForcesFinalAfterRoundBudget(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("s"), nil
		case ratelimit.StageSelect:
			return selectResponse("sel"), nil
		case ratelimit.StageUpdate:
			return updateResponse("u", false, "seg-1"), nil
		case ratelimit.StageFinal:
			return &llm.Response{ID: "f", OutputText: "<cot>c</cot><summary> found partial evidence only </summary>"}, nil
		}
		return nil, nil
	}}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1"}}}, &fakeSelector{segments: "[]"})

	result := a.Run(context.Background())

	assert.Equal(t, StatusPartial, result.Status)
	assert.Equal(t, "found partial evidence only", result.Summary)
	assert.Len(t, gw.stageCalls(ratelimit.StageSearch), MaxToolRounds)
	assert.Len(t, gw.stageCalls(ratelimit.StageFinal), 1)

	// Nothing was finished, so the context file stays empty.
	data, err := os.ReadFile(a.deps.ContextFile)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestAgentSurvivesUnparseableSearchPlan(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return &llm.Response{ID: "s", OutputText: "no tags at all"}, nil
		case ratelimit.StageSelect:
			return selectResponse("sel"), nil
		case ratelimit.StageUpdate:
			return updateResponse("u", true, "seg-1"), nil
		}
		return nil, nil
	}}
	a := newTestAgent(t, gw, &fakeSearcher{}, &fakeSelector{segments: "[]"})
	result := a.Run(context.Background())

	// The select turn was fed the in-band error directive.
	selects := gw.stageCalls(ratelimit.StageSelect)
	require.Len(t, selects, 1)
	assert.Contains(t, selects[0].Prompt, "Error performing search")
	// Run still terminates; the hallucinated citation never survives since
	// no search ever returned seg-1.
	assert.Equal(t, StatusFinished, result.Status)
}

func TestAgentSelectorFailureDirective(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("s"), nil
		case ratelimit.StageSelect:
			return selectResponse("sel"), nil
		case ratelimit.StageUpdate:
			return updateResponse("u", true, "seg-1"), nil
		}
		return nil, nil
	}}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1"}}},
		&fakeSelector{err: assert.AnError})
	a.Run(context.Background())

	updates := gw.stageCalls(ratelimit.StageUpdate)
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Prompt, "Error performing document retrieval")
}

func TestAgentEmptySelectionUsesPlaceholder(t *testing.T) {
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, _ int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("s"), nil
		case ratelimit.StageSelect:
			return &llm.Response{ID: "sel", OutputText: wrapAnswer(`{"selections":[]}`)}, nil
		case ratelimit.StageUpdate:
			return updateResponse("u", true, "seg-1"), nil
		}
		return nil, nil
	}}
	selector := &fakeSelector{segments: "[]"}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1"}}}, selector)
	a.Run(context.Background())

	assert.Equal(t, []string{"dummy_id"}, selector.gotIDs)
}

func TestAgentUndecodablePayloadDegradesToPartial(t *testing.T) {
	round := 0
	gw := &fakeGateway{respond: func(stage ratelimit.Stage, nth int) (*llm.Response, error) {
		switch stage {
		case ratelimit.StageSearch:
			return searchResponse("s"), nil
		case ratelimit.StageSelect:
			return selectResponse("sel"), nil
		case ratelimit.StageUpdate:
			round = nth
			return &llm.Response{ID: "u", OutputText: wrapAnswer(`{"questions": [broken`)}, nil
		case ratelimit.StageFinal:
			return &llm.Response{ID: "f", OutputText: "<summary>gave up</summary>"}, nil
		}
		return nil, nil
	}}
	a := newTestAgent(t, gw, &fakeSearcher{hits: []search.Hit{{SegmentID: "seg-1"}}}, &fakeSelector{segments: "[]"})

	result := a.Run(context.Background())

	assert.Equal(t, StatusPartial, result.Status)
	assert.Equal(t, MaxToolRounds-1, round)
	assert.Equal(t, "gave up", result.Summary)
}

func TestSerializeHistoryFraming(t *testing.T) {
	a := &Agent{}
	a.record("user", "hello")
	a.record("assistant", "hi")
	assert.Equal(t, "<|user|>\nhello\n<|assistant|>\nhi\n", a.serializeHistory())
}
