package ratelimit

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Monitor periodically samples the remaining capacity of every gateway bucket
// into a CSV file. Per-agent buckets appear while the pipeline runs, so the
// header is extended (and the file rewritten) when new columns show up.
// Operational telemetry only — the pipeline never reads this file.
type Monitor struct {
	gateway  *Gateway
	path     string
	interval time.Duration

	columns  []string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor writing to path every interval.
// A zero interval defaults to one second.
func NewMonitor(gateway *Gateway, path string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		gateway:  gateway,
		path:     path,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start writes the CSV header and begins polling in the background.
func (m *Monitor) Start() error {
	static := m.gateway.Buckets()
	names := make([]string, 0, len(static))
	for name := range static {
		names = append(names, name)
	}
	sort.Strings(names)
	m.columns = append([]string{"time_iso"}, names...)

	if err := os.WriteFile(m.path, []byte(strings.Join(m.columns, ",")+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create bucket monitor CSV: %w", err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.poll()
	}()
	return nil
}

// Stop halts polling and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) poll() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if err := m.sample(); err != nil {
				slog.Error("Bucket monitor sample failed", "path", m.path, "error", err)
			}
		}
	}
}

func (m *Monitor) sample() error {
	agentCols := m.agentColumns()
	if err := m.extendHeader(agentCols); err != nil {
		return err
	}

	values := map[string]string{
		"time_iso": time.Now().Format(time.RFC3339),
	}
	for name, b := range m.gateway.Buckets() {
		values[name] = strconv.Itoa(remaining(b))
	}
	agents := m.gateway.AgentBuckets()
	for id, b := range agents {
		values["Agent_"+id+"_tok"] = strconv.Itoa(remaining(b))
	}

	row := make([]string, len(m.columns))
	for i, col := range m.columns {
		row[i] = values[col]
	}

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strings.Join(row, ",") + "\n")
	return err
}

// agentColumns returns sorted per-agent column names for header stability.
func (m *Monitor) agentColumns() []string {
	agents := m.gateway.AgentBuckets()
	cols := make([]string, 0, len(agents))
	for id := range agents {
		cols = append(cols, "Agent_"+id+"_tok")
	}
	sort.Strings(cols)
	return cols
}

// extendHeader adds newly-appeared agent columns, rewriting the file so the
// header line stays accurate for the whole run.
func (m *Monitor) extendHeader(agentCols []string) error {
	have := make(map[string]bool, len(m.columns))
	for _, c := range m.columns {
		have[c] = true
	}
	var added bool
	for _, c := range agentCols {
		if !have[c] {
			m.columns = append(m.columns, c)
			added = true
		}
	}
	if !added {
		return nil
	}

	existing, err := os.ReadFile(m.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	body := ""
	if i := strings.IndexByte(string(existing), '\n'); i >= 0 {
		body = string(existing[i+1:])
	}
	return os.WriteFile(m.path, []byte(strings.Join(m.columns, ",")+"\n"+body), 0o644)
}

// remaining is the headroom left in the bucket's current window.
func remaining(b *Bucket) int {
	r := b.Capacity() - b.CurrentLoad()
	if r < 0 {
		r = 0
	}
	return r
}
