// Package report holds the report generator and evaluator: the two
// single-turn agents that bracket each pipeline round.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/factforge/factforge/pkg/agent"
	"github.com/factforge/factforge/pkg/llm"
)

// Report shape limits. Violations are logged but the report is kept; the
// evaluator's rubric is the enforcement loop.
const (
	maxCitationsPerBlock = 4
	maxReportWords       = 250
)

// Generator/evaluator model defaults. Both run through the shared gen
// buckets; the evaluator uses a smaller model and runs colder.
const (
	GeneratorModel       = "gpt-4.1"
	generatorTemperature = 0.25
	EvaluatorModel       = "gpt-4.1-mini"
	evaluatorTemperature = 0.2
)

const (
	firstRoundReport  = "First round no report yet"
	firstRoundContext = "First round no IR context yet"
	firstRoundNote    = "First round no note yet or trouble parsing eval note"
)

// GenCaller is the gateway surface the generator and evaluator share;
// satisfied by ratelimit.Gateway.
type GenCaller interface {
	GatedGenerate(ctx context.Context, model, prompt string, temperature float64) (*llm.Response, error)
}

// Generator produces one structured report per round, carrying its own and
// the evaluator's notes forward between rounds. Created per topic.
type Generator struct {
	topic   string
	gateway GenCaller
	model   string

	curReport string
	myNotes   []string
	evalNotes []string

	logPath string
}

// NewGenerator creates a generator for one topic. logPath receives the full
// prompt/response transcript for the run.
func NewGenerator(topic string, gateway GenCaller, logPath string) (*Generator, error) {
	if err := ensureFile(logPath); err != nil {
		return nil, fmt.Errorf("failed to create report transcript: %w", err)
	}
	return &Generator{
		topic:   topic,
		gateway: gateway,
		model:   GeneratorModel,
		logPath: logPath,
	}, nil
}

// Generate runs one generator turn and returns the current report and the
// generator's note to the evaluator. On LLM failure the previous report is
// returned unchanged.
func (g *Generator) Generate(ctx context.Context, irContext, evalNote, evalBlob string) (string, string, error) {
	g.evalNotes = append(g.evalNotes, evalNote)

	prompt := generatorSystemPrompt +
		"\nTopic:\n" + g.topic +
		"\nPrevious report: \n" + orPlaceholder(g.curReport, firstRoundReport) +
		"\nYour notes:\n" + serializeNotes(g.myNotes) +
		"Evaluation notes: \n" + serializeNotes(g.evalNotes) +
		"\nEvaluation:\n" + evalBlob +
		"\nIR context: \n" + orPlaceholder(irContext, firstRoundContext) + "\n"

	resp, err := g.gateway.GatedGenerate(ctx, g.model, prompt, generatorTemperature)
	if err != nil {
		return g.curReport, g.lastNote(), fmt.Errorf("report generation failed: %w", err)
	}
	text := resp.OutputText

	g.log("\n=========\n")
	g.log("Prompt:\n" + prompt + "\n")
	g.log("Response:\n" + text + "\n")

	g.updateFromResponse(text)
	return g.curReport, g.lastNote(), nil
}

// Report returns the most recent report.
func (g *Generator) Report() string { return g.curReport }

// updateFromResponse pulls the report and note out of a generator turn. When
// the tags are missing the raw content becomes the report; the note stays on
// its best-effort fallback so the round can still proceed.
func (g *Generator) updateFromResponse(content string) {
	report, ok := agent.ExtractTag(content, "report")
	if !ok {
		slog.Warn("Generator response missing report tag, storing raw content")
		g.curReport = content
		g.myNotes = append(g.myNotes, "")
		return
	}
	g.curReport = report
	checkReportShape(report)
	note, _ := agent.ExtractTag(content, "note")
	g.myNotes = append(g.myNotes, note)
}

// checkReportShape validates the block limits on a parsed report.
func checkReportShape(report string) {
	var parsed struct {
		Responses []struct {
			Text      string   `json:"text"`
			Citations []string `json:"citations"`
		} `json:"responses"`
	}
	if err := json.Unmarshal([]byte(report), &parsed); err != nil {
		slog.Warn("Report is not valid block JSON", "error", err)
		return
	}
	words := 0
	for i, block := range parsed.Responses {
		words += len(strings.Fields(block.Text))
		if len(block.Citations) > maxCitationsPerBlock {
			slog.Warn("Report block exceeds citation limit",
				"block", i, "citations", len(block.Citations), "limit", maxCitationsPerBlock)
		}
	}
	if words > maxReportWords {
		slog.Warn("Report exceeds word limit", "words", words, "limit", maxReportWords)
	}
}

func (g *Generator) lastNote() string {
	if len(g.myNotes) == 0 {
		return ""
	}
	return g.myNotes[len(g.myNotes)-1]
}

func (g *Generator) log(msg string) {
	if err := appendFile(g.logPath, msg); err != nil {
		slog.Error("Failed to append report transcript", "error", err)
	}
}

// serializeNotes renders a note history as a numbered list, substituting the
// first-round placeholder for empty entries.
func serializeNotes(notes []string) string {
	var sb strings.Builder
	for i, note := range notes {
		sb.WriteString(fmt.Sprintf("%d. Evaluation note: %s\n", i, orPlaceholder(note, firstRoundNote)))
	}
	return sb.String()
}

func orPlaceholder(s, placeholder string) string {
	if s == "" {
		return placeholder
	}
	return s
}
