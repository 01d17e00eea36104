package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/factforge/factforge/pkg/agent"
)

// BestReport is the highest-scoring parsed report seen so far for a topic.
type BestReport struct {
	Report string
	Score  int
}

// Evaluation is what one evaluator turn hands back to the driver.
type Evaluation struct {
	Note      string
	Questions []agent.Question
	// Rubric is the raw <eval> JSON, fed verbatim into the next generator
	// prompt.
	Rubric string
}

// Evaluator scores each round's report against the rubric, emits IR
// questions for the evidence gaps it finds, and tracks the best report.
// Created per topic.
type Evaluator struct {
	topic   string
	gateway GenCaller
	model   string

	status   Status
	myNotes  []string
	genNotes []string
	best     BestReport

	logPath string
}

// NewEvaluator creates an evaluator for one topic. logPath receives the full
// prompt/response transcript.
func NewEvaluator(topic string, gateway GenCaller, logPath string) (*Evaluator, error) {
	if err := ensureFile(logPath); err != nil {
		return nil, fmt.Errorf("failed to create eval transcript: %w", err)
	}
	return &Evaluator{
		topic:   topic,
		gateway: gateway,
		model:   EvaluatorModel,
		status:  StatusIncomplete,
		logPath: logPath,
	}, nil
}

// Evaluate runs one evaluator turn over the given report. The returned
// Evaluation degrades gracefully on parse failure (status FAIL, no
// questions); only an LLM failure yields an error.
func (e *Evaluator) Evaluate(ctx context.Context, report, irContext, generatorNote string) (Evaluation, error) {
	e.genNotes = append(e.genNotes, generatorNote)

	prompt := evaluatorSystemPrompt +
		"\nTopic document:\n" + e.topic +
		"\n \nReport:\n" + report +
		"\nIR Context:\n" + orPlaceholder(irContext, firstRoundContext) +
		"\nGenerator Comments:\n" + serializeNotes(e.genNotes) +
		"\n Your Comments:\n" + serializeNotes(e.myNotes)
	e.log(prompt)

	resp, err := e.gateway.GatedGenerate(ctx, e.model, prompt, evaluatorTemperature)
	if err != nil {
		return Evaluation{}, fmt.Errorf("report evaluation failed: %w", err)
	}
	e.log(resp.OutputText)
	return e.updateFromResponse(report, resp.OutputText), nil
}

// Status returns the verdict of the most recent evaluation.
func (e *Evaluator) Status() Status { return e.status }

// Best returns the best-scoring report slot. The zero value means no round
// ever parsed.
func (e *Evaluator) Best() BestReport { return e.best }

// updateFromResponse parses one evaluator turn and folds it into state. Any
// missing tag or bad JSON fails the whole turn: FAIL status, no questions,
// best slot untouched.
func (e *Evaluator) updateFromResponse(report, content string) Evaluation {
	note, noteOK := agent.ExtractTag(content, "note")

	var ir struct {
		Questions []agent.Question `json:"questions"`
	}
	irErr := agent.DecodeTagJSON(content, "ir", &ir)

	var scores map[string]int
	evalErr := agent.DecodeTagJSON(content, "eval", &scores)
	rubricRaw, _ := agent.ExtractTag(content, "eval")

	if !noteOK || irErr != nil || evalErr != nil {
		slog.Warn("Failed to parse evaluation", "note_present", noteOK, "ir_error", irErr, "eval_error", evalErr)
		e.status = StatusFail
		e.myNotes = append(e.myNotes, "Error parsing evaluation")
		return Evaluation{Note: "Error parsing evaluation"}
	}

	total, max := scoreRubric(scores)
	if passes(total, max) {
		e.status = StatusPass
	} else {
		e.status = StatusFail
	}
	if total >= e.best.Score {
		e.best = BestReport{Report: report, Score: total}
	}

	e.myNotes = append(e.myNotes, note)
	e.logScore(scores, total, max)
	return Evaluation{Note: note, Questions: ir.Questions, Rubric: rubricRaw}
}

func (e *Evaluator) logScore(scores map[string]int, total, max int) {
	line, _ := json.Marshal(scores)
	e.log(fmt.Sprintf("\n[score] total=%d max=%d status=%s rubric=%s\n", total, max, e.status, line))
}

func (e *Evaluator) log(msg string) {
	if err := appendFile(e.logPath, msg); err != nil {
		slog.Error("Failed to append eval transcript", "error", err)
	}
}
