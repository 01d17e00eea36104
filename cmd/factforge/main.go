// factforge runs the closed-loop fact-checking pipeline: for each input
// topic it iterates generate → evaluate → retrieve rounds until the report
// passes the rubric or the round budget runs out, then writes the best
// report per topic to the results file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/factforge/factforge/pkg/config"
	"github.com/factforge/factforge/pkg/pipeline"
	"github.com/factforge/factforge/pkg/topics"
	"github.com/factforge/factforge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("FACTFORGE_CONFIG", ""),
		"Path to factforge.yaml (optional; defaults apply without it)")
	topicsPath := flag.String("topics",
		getEnv("TOPICS_PATH", "topics.jsonl"),
		"Path to the JSONL topics file")
	outPath := flag.String("out", "", "Results file (overrides config results_out)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	if err := run(*configPath, *topicsPath, *outPath); err != nil {
		slog.Error("Pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, topicsPath, outPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if outPath != "" {
		cfg.Paths.ResultsOut = outPath
	}

	ts, err := topics.Load(topicsPath, cfg.Topics.Offset, cfg.Topics.Limit)
	if err != nil {
		return err
	}
	if len(ts) == 0 {
		return fmt.Errorf("no topics to process in %s", topicsPath)
	}
	slog.Info("Starting factforge",
		"version", version.Full(),
		"topics", len(ts),
		"offset", cfg.Topics.Offset,
		"results_out", cfg.Paths.ResultsOut)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := pipeline.NewRuntime(cfg)
	if err := rt.Start(); err != nil {
		return fmt.Errorf("failed to start bucket monitor: %w", err)
	}
	defer rt.Shutdown()

	results, err := rt.Driver().Run(ctx, ts)
	if err != nil {
		// Partial results still get written below; a topic that never
		// completed carries an empty report.
		slog.Error("One or more topics failed", "error", err)
	}

	if err := writeResults(cfg.Paths.ResultsOut, results); err != nil {
		return err
	}
	slog.Info("Run complete", "topics", len(results), "results_out", cfg.Paths.ResultsOut)
	return nil
}

func writeResults(path string, results []pipeline.TopicResult) error {
	payload, err := json.MarshalIndent(map[string]any{"results": results}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize results: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}
	return nil
}
