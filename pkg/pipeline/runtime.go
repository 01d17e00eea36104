package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/factforge/factforge/pkg/agent"
	"github.com/factforge/factforge/pkg/config"
	"github.com/factforge/factforge/pkg/llm"
	"github.com/factforge/factforge/pkg/proctor"
	"github.com/factforge/factforge/pkg/ratelimit"
	"github.com/factforge/factforge/pkg/report"
	"github.com/factforge/factforge/pkg/rerank"
	"github.com/factforge/factforge/pkg/search"
	"github.com/factforge/factforge/pkg/searchd"
)

// rerankTimeout bounds one rerank HTTP round trip.
const rerankTimeout = 80 * time.Second

// monitorInterval is how often the bucket monitor samples.
const monitorInterval = time.Second

// Runtime assembles the process-wide shared components: the gated LLM
// client, the search daemon, the searcher, and the bucket monitor. Per-topic
// components (generator, evaluator, proctor, agents) are created on demand.
type Runtime struct {
	cfg      *config.Config
	gateway  *ratelimit.Gateway
	daemon   *searchd.Daemon
	searcher *search.Searcher
	monitor  *ratelimit.Monitor
}

// NewRuntime wires a runtime from configuration. Nothing is started yet; the
// daemon launches lazily on first use and the monitor on Start.
func NewRuntime(cfg *config.Config) *Runtime {
	client := llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.Endpoint)
	gateway := ratelimit.NewGateway(client, cfg.Limits, nil)
	daemon := searchd.NewDaemon(searchd.Config{
		Command: cfg.Daemon.Command,
		Args:    cfg.Daemon.Args,
	})
	reranker := rerank.NewClient(cfg.Rerank.BaseURL, cfg.Rerank.APIKey, rerankTimeout)
	searcher := search.NewSearcher(daemon, reranker, gateway, cfg.Paths.BM25Results, search.DefaultTopK)
	monitor := ratelimit.NewMonitor(gateway, cfg.Paths.BucketMonitorOut, monitorInterval)

	return &Runtime{
		cfg:      cfg,
		gateway:  gateway,
		daemon:   daemon,
		searcher: searcher,
		monitor:  monitor,
	}
}

// Start brings up the bucket monitor.
func (r *Runtime) Start() error {
	return r.monitor.Start()
}

// Shutdown stops the daemon and the monitor.
func (r *Runtime) Shutdown() {
	r.daemon.Stop()
	r.monitor.Stop()
}

// Driver builds the topic driver backed by this runtime.
func (r *Runtime) Driver() *Driver {
	return &Driver{
		NewGenerator: func(topic string, num int) (Generator, error) {
			return report.NewGenerator(topic, r.gateway, r.cfg.ReportFile(num))
		},
		NewEvaluator: func(topic string, num int) (Evaluator, error) {
			return report.NewEvaluator(topic, r.gateway, r.cfg.EvalFile(num))
		},
		BuildContext:      r.buildContext,
		StopOnNoQuestions: r.cfg.StopOnNoQuestions,
	}
}

// buildContext runs one retrieval round: the proctor appends this round's
// evidence to the per-topic context file, and the whole file (all rounds so
// far) is returned as the context blob.
func (r *Runtime) buildContext(ctx context.Context, questions []agent.Question, num int) (string, error) {
	contextFile := r.cfg.ContextFile(num)
	p := proctor.New(r.batchFunc(contextFile), contextFile)
	if err := p.CreateContext(ctx, questions); err != nil {
		return "", err
	}
	data, err := os.ReadFile(contextFile)
	if err != nil {
		return "", fmt.Errorf("failed to read context file: %w", err)
	}
	return string(data), nil
}

// batchFunc creates and runs one IR agent per question batch.
func (r *Runtime) batchFunc(contextFile string) proctor.BatchFunc {
	return func(ctx context.Context, questions string) (agent.Result, error) {
		a, err := agent.New(questions, agent.Deps{
			Gateway:     r.gateway,
			Searcher:    r.searcher,
			Selector:    r.daemon,
			ResultsPath: r.cfg.Paths.BM25Results,
			ContextFile: contextFile,
		})
		if err != nil {
			return agent.Result{}, err
		}
		return a.Run(ctx), nil
	}
}
