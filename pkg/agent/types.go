// Package agent implements the IR (information retrieval) agent: a
// plan/search/select/update state machine that answers a small batch of
// evidence questions against the corpus.
package agent

// Status is the agent's terminal answer state.
type Status string

const (
	// StatusNoAnswer means no question has been answered at all.
	StatusNoAnswer Status = "NO_ANSWER"
	// StatusPartial means some questions remain open or a parse degraded.
	StatusPartial Status = "PARTIAL"
	// StatusFinished means every question was marked finished.
	StatusFinished Status = "FINISHED"
)

// Question is one evidence need emitted by the report evaluator.
type Question struct {
	Question string `json:"question"`
	Context  string `json:"context"`
}

// searchPlan is the parsed SEARCH_CALL output.
type searchPlan struct {
	Searches []searchCall `json:"searches"`
}

// searchCall is one BM25 dispatch: keyword queries plus a master query for
// semantic rerank.
type searchCall struct {
	Queries     []string `json:"queries"`
	MasterQuery string   `json:"master_query"`
}

// selection is the parsed SELECT_CALL output.
type selection struct {
	Selections []string `json:"selections"`
}

// Citation backs one piece of answer text with a corpus segment.
type Citation struct {
	Summary  string `json:"summary"`
	Citation string `json:"citation"`
}

// Answer is the current answer to one question.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

// QuestionAnswer pairs a question with its in-progress answer.
type QuestionAnswer struct {
	Question   string `json:"question"`
	DocContext string `json:"doc_context"`
	Answer     Answer `json:"answer"`
	Finished   bool   `json:"finished"`
}

// RoundSummary records what one search round tried, so later rounds avoid
// repeating dead-end queries and already-seen segments.
type RoundSummary struct {
	Summary string   `json:"summary"`
	SeenIDs []string `json:"seen_ids"`
}

// AnswerPayload is the full UPDATE_CALL output: the remaining questions plus
// the per-round history.
type AnswerPayload struct {
	Questions []QuestionAnswer `json:"questions"`
	Rounds    []RoundSummary   `json:"rounds"`
}

// Result is what an agent run always returns, even after partial failures.
type Result struct {
	Summary string `json:"summary"`
	Status  Status `json:"status"`
	Answer  string `json:"answer"`
}

// message mirrors one LLM turn locally. The provider holds the real thread
// (chained by response id); this mirror exists only for prompt-token
// estimation parity.
type message struct {
	Role    string
	Content string
}
