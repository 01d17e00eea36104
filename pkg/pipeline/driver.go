// Package pipeline wires the generate/evaluate/retrieve loop across topics.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/factforge/factforge/pkg/agent"
	"github.com/factforge/factforge/pkg/report"
	"github.com/factforge/factforge/pkg/topics"
)

// MaxRounds bounds the generate → evaluate → retrieve cycles per topic.
const MaxRounds = 3

// initialEvaluation seeds the first generator prompt before any rubric
// exists.
const initialEvaluation = "No evaluation yet"

// TopicResult is one entry of the output results file.
type TopicResult struct {
	ID     string `json:"id"`
	Report string `json:"report"`
	Score  int    `json:"score"`
}

// Generator is the per-topic report generator surface.
type Generator interface {
	Generate(ctx context.Context, irContext, evalNote, evalBlob string) (string, string, error)
}

// Evaluator is the per-topic report evaluator surface.
type Evaluator interface {
	Evaluate(ctx context.Context, reportText, irContext, generatorNote string) (report.Evaluation, error)
	Status() report.Status
	Best() report.BestReport
}

// ContextFunc runs one retrieval round for a topic: it drives the IR
// ensemble over the questions and returns the accumulated context blob.
type ContextFunc func(ctx context.Context, questions []agent.Question, num int) (string, error)

// Driver runs the round loop for every topic. The factories are injected so
// tests can run the loop without a provider or daemon.
type Driver struct {
	NewGenerator func(topic string, num int) (Generator, error)
	NewEvaluator func(topic string, num int) (Evaluator, error)
	BuildContext ContextFunc

	// StopOnNoQuestions ends a topic's rounds early when the evaluator
	// finds no remaining evidence gaps.
	StopOnNoQuestions bool
}

// Run executes all topics concurrently and returns one result per topic, in
// input order. A topic that fails terminally still yields a result carrying
// whatever best report was recorded before the failure.
func (d *Driver) Run(ctx context.Context, ts []topics.Topic) ([]TopicResult, error) {
	results := make([]TopicResult, len(ts))
	g, gctx := errgroup.WithContext(ctx)
	for num, topic := range ts {
		num, topic := num, topic
		g.Go(func() error {
			res, err := d.runTopic(gctx, topic, num)
			results[num] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// runTopic drives one topic to completion.
func (d *Driver) runTopic(ctx context.Context, topic topics.Topic, num int) (TopicResult, error) {
	log := slog.With("topic_id", topic.DocID, "num", num)

	gen, err := d.NewGenerator(topic.Serialized, num)
	if err != nil {
		return TopicResult{ID: topic.DocID}, fmt.Errorf("topic %s: %w", topic.DocID, err)
	}
	eval, err := d.NewEvaluator(topic.Serialized, num)
	if err != nil {
		return TopicResult{ID: topic.DocID}, fmt.Errorf("topic %s: %w", topic.DocID, err)
	}

	var (
		irContext string
		evalNote  string
		questions []agent.Question
		evalBlob  = initialEvaluation
	)

	for rounds := 0; rounds < MaxRounds; rounds++ {
		if rounds > 0 {
			blob, err := d.BuildContext(ctx, questions, num)
			if err != nil {
				// Retrieval failing is not fatal for the topic: generate
				// from whatever context already exists.
				log.Warn("Context build failed, continuing with stale context", "round", rounds, "error", err)
			} else {
				irContext = blob
			}
		}

		reportText, genNote, err := gen.Generate(ctx, irContext, evalNote, evalBlob)
		if err != nil {
			log.Warn("Generator failed, ending topic rounds", "round", rounds, "error", err)
			break
		}

		evaluation, err := eval.Evaluate(ctx, reportText, irContext, genNote)
		if err != nil {
			log.Warn("Evaluator failed, ending topic rounds", "round", rounds, "error", err)
			break
		}
		evalNote = evaluation.Note
		questions = evaluation.Questions
		evalBlob = evaluation.Rubric

		if eval.Status() == report.StatusPass {
			log.Info("Report passed evaluation", "round", rounds)
			break
		}
		if d.StopOnNoQuestions && len(questions) == 0 {
			log.Info("No IR questions remain, stopping early", "round", rounds)
			break
		}
	}

	best := eval.Best()
	return TopicResult{ID: topic.DocID, Report: best.Report, Score: best.Score}, nil
}
