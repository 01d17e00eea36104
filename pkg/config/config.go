// Package config loads the pipeline configuration: a YAML file layered over
// built-in defaults, with credentials and path overrides taken from the
// environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/factforge/factforge/pkg/ratelimit"
)

// Config is the full runtime configuration.
type Config struct {
	Paths    PathsConfig      `yaml:"paths"`
	Provider ProviderConfig   `yaml:"provider"`
	Rerank   RerankConfig     `yaml:"rerank"`
	Daemon   DaemonConfig     `yaml:"daemon"`
	Limits   ratelimit.Limits `yaml:"limits"`
	Topics   TopicsConfig     `yaml:"topics"`

	// StopOnNoQuestions terminates a topic run early once the evaluator
	// emits an empty IR question list, instead of burning the remaining
	// rounds on a report that cannot gain new evidence.
	StopOnNoQuestions bool `yaml:"stop_on_no_questions"`
}

// PathsConfig locates every filesystem artifact the pipeline writes.
// Context, report and eval paths are prefixes; the per-topic number plus
// ".txt" is appended.
type PathsConfig struct {
	BM25Results      string `yaml:"bm25_results"`
	ContextPrefix    string `yaml:"context_prefix"`
	ReportPrefix     string `yaml:"report_prefix"`
	EvalPrefix       string `yaml:"eval_prefix"`
	BucketMonitorOut string `yaml:"bucket_monitor_out"`
	ResultsOut       string `yaml:"results_out"`
}

// ProviderConfig holds the LLM provider connection. The API key never comes
// from YAML.
type ProviderConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"-"`
}

// RerankConfig holds the rerank service connection. Same key policy.
type RerankConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
}

// DaemonConfig is the search daemon command line.
type DaemonConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// TopicsConfig slices the input topic file.
type TopicsConfig struct {
	Offset int `yaml:"offset"`
	Limit  int `yaml:"limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			BM25Results:      "artifacts/bm25_results",
			ContextPrefix:    "artifacts/context-",
			ReportPrefix:     "artifacts/report-",
			EvalPrefix:       "artifacts/eval-",
			BucketMonitorOut: "artifacts/bucket_usage.csv",
			ResultsOut:       "RES.txt",
		},
		Rerank: RerankConfig{
			BaseURL: "https://api.cohere.com",
		},
		Daemon: DaemonConfig{
			Command: "java",
			Args:    []string{"-cp", "search/classes", "SearcherDaemon"},
		},
		Limits: ratelimit.DefaultLimits(),
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides. Returns an error when required
// credentials are missing.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv layers environment variables over the loaded values. Paths only
// override when set; credentials only come from here.
func (c *Config) applyEnv() {
	setIfEnv(&c.Paths.BM25Results, "BM25_RESULTS_PATH")
	setIfEnv(&c.Paths.ContextPrefix, "CONTEXT_PATH")
	setIfEnv(&c.Paths.ReportPrefix, "REPORT_PATH")
	setIfEnv(&c.Paths.EvalPrefix, "EVAL_PATH")
	setIfEnv(&c.Paths.BucketMonitorOut, "BUCKET_MONITOR_OUT")
	setIfEnv(&c.Provider.Endpoint, "OPENAI_ENDPOINT")
	c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	c.Rerank.APIKey = os.Getenv("RERANK_API_KEY")
}

func (c *Config) validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if c.Rerank.APIKey == "" {
		return fmt.Errorf("RERANK_API_KEY is not set")
	}
	if c.Daemon.Command == "" {
		return fmt.Errorf("daemon command is empty")
	}
	return nil
}

// ContextFile returns the per-topic context file path.
func (c *Config) ContextFile(num int) string {
	return fmt.Sprintf("%s%d.txt", c.Paths.ContextPrefix, num)
}

// ReportFile returns the per-topic report transcript path.
func (c *Config) ReportFile(num int) string {
	return fmt.Sprintf("%s%d.txt", c.Paths.ReportPrefix, num)
}

// EvalFile returns the per-topic eval transcript path.
func (c *Config) EvalFile(num int) string {
	return fmt.Sprintf("%s%d.txt", c.Paths.EvalPrefix, num)
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
