package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/factforge/factforge/pkg/llm"
	"github.com/factforge/factforge/pkg/ratelimit"
	"github.com/factforge/factforge/pkg/search"
)

// MaxToolRounds bounds the (search → select → update) cycles before the
// agent is forced to emit a final summary.
const MaxToolRounds = 3

// maxSearchesPerRound and maxQueriesPerSearch cap the parsed SEARCH plan.
const (
	maxSearchesPerRound = 2
	maxSelections       = 6
)

// Fallback directives fed to the next stage when a tool or parse fails.
// The loop keeps going — the model is told what went wrong in-band.
const (
	searchFailedDirective = "Error performing search, produce an empty selections array"
	selectFailedDirective = "Error performing document retrieval: instead of attempting to " +
		"update the answer just rewrite the previous answer."
)

// placeholderSegmentID stands in when the model selects nothing, so the
// select tool still runs and the round shape stays uniform.
const placeholderSegmentID = "dummy_id"

// StageCaller is the gateway surface the agent needs; satisfied by
// ratelimit.Gateway, faked in tests.
type StageCaller interface {
	GatedResponse(ctx context.Context, agentID string, stage ratelimit.Stage,
		prompt, instructions, contextText, prevID string) (*llm.Response, error)
}

// SegmentSearcher runs one BM25+rerank search; satisfied by search.Searcher.
type SegmentSearcher interface {
	Search(ctx context.Context, queries []string, masterQuery, agentID string) ([]search.Hit, error)
}

// DocumentSelector fetches segment bodies; satisfied by searchd.Daemon.
type DocumentSelector interface {
	SelectDocuments(ctx context.Context, segmentIDs []string, isSegment bool) (string, error)
}

// Deps wires an agent to its collaborators and scratch locations.
type Deps struct {
	Gateway  StageCaller
	Searcher SegmentSearcher
	Selector DocumentSelector

	// ResultsPath is the BM25 scratch root; the agent owns
	// ResultsPath/<agentID> exclusively.
	ResultsPath string
	// ContextFile is the per-topic context file finished answers are
	// appended to.
	ContextFile string
}

// Agent answers one batch of questions through bounded search rounds.
// Created per batch; never reused.
type Agent struct {
	id        string
	questions string
	deps      Deps

	history    []message
	status     Status
	fullAnswer string
	summary    string
	prevID     string

	// seenIDs accumulates every segment id returned by this agent's
	// searches; citations pointing elsewhere are discarded.
	seenIDs map[string]bool

	convoPath string
	toolsPath string
}

// New creates an agent for the serialized question batch.
func New(questions string, deps Deps) (*Agent, error) {
	a := &Agent{
		id:        uuid.NewString(),
		questions: questions,
		deps:      deps,
		status:    StatusNoAnswer,
		seenIDs:   make(map[string]bool),
	}
	dir := filepath.Join(deps.ResultsPath, a.id)
	a.convoPath = filepath.Join(dir, "Convo.txt")
	a.toolsPath = filepath.Join(dir, "Tools.txt")
	for _, p := range []string{a.convoPath, a.toolsPath} {
		if err := ensureFile(p); err != nil {
			return nil, fmt.Errorf("failed to create agent scratch files: %w", err)
		}
	}
	a.logConvo(fmt.Sprintf("Agent %s created\n", a.id))
	return a, nil
}

// ID returns the agent's unique id (also its scratch directory name and its
// per-agent bucket key).
func (a *Agent) ID() string { return a.id }

// Run drives the full state machine and always returns a Result, even when
// every round degraded.
func (a *Agent) Run(ctx context.Context) Result {
	rounds := 0
	for a.status != StatusFinished {
		segments := a.getInfo(ctx, rounds == 0)
		a.updateAnswer(ctx, segments)
		rounds++
		if rounds >= MaxToolRounds {
			if a.status != StatusFinished {
				a.forceFinal(ctx)
			}
			break
		}
		a.resetThread()
	}
	return Result{Summary: a.summary, Status: a.status, Answer: a.fullAnswer}
}

// getInfo runs the SEARCH and SELECT turns of one round and returns the
// selected segment payload for the UPDATE turn.
func (a *Agent) getInfo(ctx context.Context, firstRound bool) string {
	var contextBlock string
	if firstRound {
		contextBlock = "<questions>" + a.questions + "</questions>"
	} else {
		contextBlock = "<current_answer>" + a.fullAnswer + "</current_answer>"
	}

	// ── SEARCH turn ──
	prompt := searchContract + contextBlock
	a.record("user", prompt)
	anchor, err := a.deps.Gateway.GatedResponse(ctx, a.id, ratelimit.StageSearch, prompt, globalFormat, "", "")

	var searchResults string
	if err != nil {
		slog.Warn("Search stage call failed", "agent_id", a.id, "error", err)
		searchResults = searchFailedDirective
	} else {
		a.prevID = anchor.ID
		a.record("assistant", anchor.OutputText)
		a.logConvo("\n------- SEARCH CALLS ------\n" + a.serializeHistory())
		searchResults = a.dispatchSearches(ctx, anchor.OutputText)
	}

	// ── SELECT turn ──
	prompt = selectContract + "\n\n<search_metadata>" + searchResults + "</search_metadata>"
	a.logConvo("\n------ TOOL RESULTS -------\n" + prompt)
	// The select response is deliberately not recorded in the logical
	// thread: which ids were picked is not informative after the segments
	// themselves arrive.
	selResp, err := a.deps.Gateway.GatedResponse(ctx, a.id, ratelimit.StageSelect,
		prompt, globalFormat, a.serializeHistory(), a.prevID)

	selected := selectFailedDirective
	if err != nil {
		slog.Warn("Select stage call failed", "agent_id", a.id, "error", err)
	} else {
		a.logConvo("\n- SELECT CALLS (NOT PERSISTED IN LOGICAL THREAD) -\n" + selResp.OutputText)
		selected = a.dispatchSelect(ctx, selResp.OutputText)
	}
	a.logConvo("\n---- RESULTS ----\n" + selected)

	// Chain the update turn off the search anchor, not the select turn.
	if anchor != nil {
		a.prevID = anchor.ID
	}
	return selected
}

// dispatchSearches parses the SEARCH output and runs each search in
// parallel, returning the concatenated metadata payload for the SELECT turn.
func (a *Agent) dispatchSearches(ctx context.Context, output string) string {
	var plan searchPlan
	if err := DecodeTagJSON(output, "answer", &plan); err != nil {
		slog.Warn("Failed to parse search plan", "agent_id", a.id, "error", err)
		return searchFailedDirective
	}
	calls := plan.Searches
	if len(calls) > maxSearchesPerRound {
		calls = calls[:maxSearchesPerRound]
	}
	if len(calls) == 0 {
		return searchFailedDirective
	}

	results := make([]string, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			hits, err := a.deps.Searcher.Search(gctx, call.Queries, call.MasterQuery, a.id)
			if err != nil {
				// A single failed search synthesizes an empty result;
				// the other searches are unaffected.
				slog.Warn("Tool call failed", "agent_id", a.id, "call", "search", "error", err)
				a.logTool("search", call, "tool call failed: "+err.Error())
				results[i] = a.formatSearchResult(call, nil)
				return nil
			}
			a.logTool("search", call, hits)
			results[i] = a.formatSearchResult(call, hits)
			return nil
		})
	}
	_ = g.Wait()
	return truncateToolOutput(strings.Join(results, "\n"))
}

// formatSearchResult renders one search's hits for the SELECT prompt and
// registers the returned segment ids as seen.
func (a *Agent) formatSearchResult(call searchCall, hits []search.Hit) string {
	for _, h := range hits {
		a.seenIDs[h.SegmentID] = true
	}
	kwargs, _ := json.Marshal(call)
	label := string(kwargs)
	if len(label) > 150 {
		label = label[:150]
	}
	payload, _ := json.Marshal(map[string]any{"search": label, "results": hits})
	return string(payload)
}

// dispatchSelect parses the SELECT output and fetches the chosen segments.
func (a *Agent) dispatchSelect(ctx context.Context, output string) string {
	var sel selection
	if err := DecodeTagJSON(output, "answer", &sel); err != nil {
		slog.Warn("Failed to parse selections", "agent_id", a.id, "error", err)
		return selectFailedDirective
	}
	ids := sel.Selections
	if len(ids) > maxSelections {
		ids = ids[:maxSelections]
	}
	if len(ids) == 0 {
		slog.Warn("Empty selections list, using placeholder id", "agent_id", a.id)
		ids = []string{placeholderSegmentID}
	}

	segments, err := a.deps.Selector.SelectDocuments(ctx, ids, true)
	if err != nil {
		slog.Warn("Tool call failed", "agent_id", a.id, "call", "selectDocuments", "error", err)
		a.logTool("selectDocuments", ids, "tool call failed: "+err.Error())
		return selectFailedDirective
	}
	a.logTool("selectDocuments", ids, segments)
	return truncateToolOutput(segments)
}

// updateAnswer runs the UPDATE turn and folds the model's new payload into
// the agent state.
func (a *Agent) updateAnswer(ctx context.Context, toolOutputs string) {
	prompt := updateContract + "\n\n<selected_segments>" + toolOutputs + "</selected_segments>"
	a.record("user", prompt)

	resp, err := a.deps.Gateway.GatedResponse(ctx, a.id, ratelimit.StageUpdate,
		prompt, globalFormat, a.serializeHistory(), a.prevID)
	if err != nil {
		slog.Warn("Update stage call failed", "agent_id", a.id, "error", err)
		return
	}
	raw := resp.OutputText
	a.record("assistant", raw)
	if answer, ok := ExtractTag(raw, "answer"); ok {
		a.fullAnswer = answer
	} else {
		a.fullAnswer = raw
	}
	a.prevID = resp.ID

	a.logConvo("\n==== UPDATE PROMPT ====\n" + prompt + "\n==== ANSWER UPDATE ====\n" + raw + "\n")
	a.updateStatus()
}

// updateStatus parses the current answer payload, commits finished questions
// to the per-topic context file, strips them from the in-memory payload, and
// recomputes the agent status.
func (a *Agent) updateStatus() {
	if a.fullAnswer == "" {
		a.status = StatusNoAnswer
		return
	}
	prev := a.status

	var payload AnswerPayload
	if err := json.Unmarshal([]byte(a.fullAnswer), &payload); err != nil {
		slog.Warn("Answer payload not decodable, degrading to partial", "agent_id", a.id, "error", err)
		a.status = StatusPartial
		return
	}

	var finished, remaining []QuestionAnswer
	for _, q := range payload.Questions {
		q.Answer.Citations = a.filterCitations(q.Answer.Citations)
		if q.Finished {
			finished = append(finished, q)
		} else {
			remaining = append(remaining, q)
		}
	}

	for _, q := range finished {
		line, err := json.Marshal(q)
		if err != nil {
			continue
		}
		if err := appendFile(a.deps.ContextFile, string(line)+"\n"); err != nil {
			slog.Error("Failed to commit finished question", "agent_id", a.id, "error", err)
		}
	}

	payload.Questions = remaining
	updated, err := json.Marshal(payload)
	if err == nil {
		a.fullAnswer = string(updated)
	}

	switch {
	case len(remaining) == 0:
		a.status = StatusFinished
	case len(finished) > 0:
		a.status = StatusPartial
	case prev == StatusNoAnswer:
		a.status = StatusNoAnswer
	default:
		a.status = StatusPartial
	}
}

// filterCitations drops citations whose segment id never appeared in this
// agent's search results. Models occasionally hallucinate ids; evidence must
// trace back to something actually retrieved.
func (a *Agent) filterCitations(citations []Citation) []Citation {
	kept := citations[:0]
	for _, c := range citations {
		if a.seenIDs[c.Citation] {
			kept = append(kept, c)
		} else {
			slog.Warn("Dropping citation to unretrieved segment", "agent_id", a.id, "segment_id", c.Citation)
		}
	}
	return kept
}

// forceFinal issues the FINAL_CALL after the round budget is exhausted and
// stores the extracted summary.
func (a *Agent) forceFinal(ctx context.Context) {
	a.record("user", finalContract)
	a.logConvo("\n----- FORCED FINAL -----\n" + finalContract)

	resp, err := a.deps.Gateway.GatedResponse(ctx, a.id, ratelimit.StageFinal,
		finalContract, globalFormat, a.serializeHistory(), a.prevID)
	if err != nil {
		slog.Warn("Final stage call failed", "agent_id", a.id, "error", err)
		return
	}
	a.logConvo("\n==== FINAL SUMMARY ====\n" + resp.OutputText + "\n")
	if summary, ok := ExtractTag(resp.OutputText, "summary"); ok {
		a.summary = summary
	}
}

// resetThread clears the logical thread between rounds: both the local
// history mirror and the provider-side anchor. The next round's prompts
// carry the current answer payload instead of the old tool blobs.
func (a *Agent) resetThread() {
	a.history = a.history[:0]
	a.prevID = ""
	a.logConvo("\n---- Logical thread reset ----\n")
}

// record mirrors a message locally for prompt-token estimation.
func (a *Agent) record(role, content string) {
	a.history = append(a.history, message{Role: role, Content: content})
}

// serializeHistory renders the mirror exactly the way the gateway's token
// estimator frames it.
func (a *Agent) serializeHistory() string {
	var sb strings.Builder
	for _, m := range a.history {
		sb.WriteString("<|" + m.Role + "|>\n" + m.Content + "\n")
	}
	return sb.String()
}

func (a *Agent) logConvo(msg string) {
	if err := appendFile(a.convoPath, msg); err != nil {
		slog.Error("Failed to append convo log", "agent_id", a.id, "error", err)
	}
}

func (a *Agent) logTool(call string, args any, result any) {
	payload, _ := json.Marshal(map[string]any{"call": call, "kwargs": args, "results": result})
	if err := appendFile(a.toolsPath, "\n---- TOOL CALL ----\n"+string(payload)); err != nil {
		slog.Error("Failed to append tool log", "agent_id", a.id, "error", err)
	}
}
