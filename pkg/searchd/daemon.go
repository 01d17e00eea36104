package searchd

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DaemonLostError is the terminal failure handed to every pending waiter when
// the daemon's stdout closes or the frame stream becomes unreadable.
type DaemonLostError struct {
	Cause error
}

func (e *DaemonLostError) Error() string {
	if e.Cause == nil {
		return "search daemon closed stdout"
	}
	return fmt.Sprintf("search daemon lost: %v", e.Cause)
}

func (e *DaemonLostError) Unwrap() error { return e.Cause }

// Config describes how to launch the daemon co-process.
type Config struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	// GracefulStop is how long to wait after closing stdin before SIGTERM;
	// TermStop how long after SIGTERM before SIGKILL.
	GracefulStop time.Duration `yaml:"graceful_stop"`
	TermStop     time.Duration `yaml:"term_stop"`
}

// request is one frame sent to the daemon.
type request struct {
	ID     string   `json:"id"`
	Call   string   `json:"call"`
	Params []string `json:"params"`
}

// response is one frame received from the daemon.
type response struct {
	ID         string          `json:"id"`
	Status     int             `json:"status"`
	Result     json.RawMessage `json:"result"`
	ResultJSON json.RawMessage `json:"resultJson"`
}

// rpcResult resolves one pending waiter.
type rpcResult struct {
	payload json.RawMessage
	err     error
}

// Daemon manages the single long-lived search co-process shared by all
// topics and IR agents. Writes to stdin are serialized under one lock; a
// single background goroutine reads stdout and dispatches responses to
// per-request waiters keyed by request id; stderr is drained separately.
type Daemon struct {
	cfg Config

	startMu sync.Mutex
	started bool

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	waitCh chan error

	writeMu sync.Mutex

	pendMu  sync.Mutex
	pending map[string]chan rpcResult
	lost    error
}

// NewDaemon creates an unstarted daemon client.
func NewDaemon(cfg Config) *Daemon {
	if cfg.GracefulStop <= 0 {
		cfg.GracefulStop = 5 * time.Second
	}
	if cfg.TermStop <= 0 {
		cfg.TermStop = 3 * time.Second
	}
	return &Daemon{
		cfg:     cfg,
		pending: make(map[string]chan rpcResult),
	}
}

// Start launches the co-process. Idempotent — concurrent callers race safely
// and only one launch happens.
func (d *Daemon) Start() error {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return nil
	}

	cmd := exec.Command(d.cfg.Command, d.cfg.Args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open daemon stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open daemon stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open daemon stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start search daemon: %w", err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.waitCh = make(chan error, 1)
	go func() { d.waitCh <- cmd.Wait() }()

	go d.readLoop(bufio.NewReader(stdout))
	go drainStderr(stderr)

	d.started = true
	slog.Info("Search daemon started", "command", d.cfg.Command, "pid", cmd.Process.Pid)
	return nil
}

// attach wires the daemon to explicit pipes instead of a subprocess.
// Test seam — production always goes through Start.
func (d *Daemon) attach(stdin io.WriteCloser, stdout io.Reader) {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	d.stdin = stdin
	d.started = true
	go d.readLoop(bufio.NewReader(stdout))
}

// readLoop is the single background reader. It dispatches each response to
// its waiter; an unreadable stream fails every pending and future call.
func (d *Daemon) readLoop(r *bufio.Reader) {
	for {
		raw, err := ReadFrame(r)
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			d.failAll(&DaemonLostError{Cause: err})
			return
		}
		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			d.failAll(&DaemonLostError{Cause: fmt.Errorf("undecodable response frame: %w", err)})
			return
		}

		d.pendMu.Lock()
		ch, ok := d.pending[resp.ID]
		delete(d.pending, resp.ID)
		d.pendMu.Unlock()
		if !ok {
			// Waiter abandoned (cancelled agent) — drop the response.
			continue
		}

		if resp.Status != 0 {
			ch <- rpcResult{err: fmt.Errorf("daemon call failed with status %d", resp.Status)}
			continue
		}
		payload := resp.ResultJSON
		if len(payload) == 0 {
			payload = resp.Result
		}
		ch <- rpcResult{payload: payload}
	}
}

// failAll marks the stream dead and resolves every pending waiter with err.
func (d *Daemon) failAll(err error) {
	d.pendMu.Lock()
	d.lost = err
	pending := d.pending
	d.pending = make(map[string]chan rpcResult)
	d.pendMu.Unlock()

	slog.Error("Search daemon stream failed", "pending", len(pending), "error", err)
	for _, ch := range pending {
		ch <- rpcResult{err: err}
	}
}

// submit sends one request frame and waits for its response.
func (d *Daemon) submit(ctx context.Context, call string, params []string) (json.RawMessage, error) {
	if err := d.Start(); err != nil {
		return nil, err
	}

	id, err := newRequestID()
	if err != nil {
		return nil, err
	}
	ch := make(chan rpcResult, 1)

	d.pendMu.Lock()
	if d.lost != nil {
		lost := d.lost
		d.pendMu.Unlock()
		return nil, lost
	}
	d.pending[id] = ch
	d.pendMu.Unlock()

	body, err := json.Marshal(request{ID: id, Call: call, Params: params})
	if err != nil {
		return nil, err
	}

	d.writeMu.Lock()
	err = WriteFrame(d.stdin, body)
	d.writeMu.Unlock()
	if err != nil {
		d.pendMu.Lock()
		delete(d.pending, id)
		d.pendMu.Unlock()
		return nil, fmt.Errorf("failed to write daemon request: %w", err)
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		// Abandon the waiter; the reader drops the response if it arrives.
		d.pendMu.Lock()
		delete(d.pending, id)
		d.pendMu.Unlock()
		return nil, ctx.Err()
	}
}

// RunBM25Search asks the daemon to run the queries and write candidate
// records as JSONL to outPath.
func (d *Daemon) RunBM25Search(ctx context.Context, queries []string, outPath string) error {
	params := append(append([]string{}, queries...), outPath)
	_, err := d.submit(ctx, "search", params)
	return err
}

// SelectDocuments fetches the documents (or segments, with isSegment) for the
// given ids and returns them as a normalized JSON array string. When
// isSegment is false the daemon concatenates adjacent segments to
// reconstruct full-document text.
func (d *Daemon) SelectDocuments(ctx context.Context, segmentIDs []string, isSegment bool) (string, error) {
	params := make([]string, 0, len(segmentIDs)+1)
	if isSegment {
		params = append(params, "--asSegments")
	}
	params = append(params, segmentIDs...)

	raw, err := d.submit(ctx, "selectDocuments", params)
	if err != nil {
		return "", err
	}
	return normalizeDocList(raw), nil
}

// normalizeDocList coerces the daemon result into a JSON array string.
// The daemon may return a list, a single object, or a JSON string wrapping
// either; undecodable payloads pass through as-is.
func normalizeDocList(raw json.RawMessage) string {
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		raw = json.RawMessage(inner)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if _, ok := v.([]any); ok {
		return string(raw)
	}
	wrapped, err := json.Marshal([]any{v})
	if err != nil {
		return string(raw)
	}
	return string(wrapped)
}

// Stop shuts the daemon down: close stdin for a graceful EOF exit, escalate
// to SIGTERM, then SIGKILL.
func (d *Daemon) Stop() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if !d.started || d.cmd == nil {
		return
	}

	if d.stdin != nil {
		_ = d.stdin.Close()
	}
	select {
	case <-d.waitCh:
		d.started = false
		return
	case <-time.After(d.cfg.GracefulStop):
	}

	slog.Warn("Search daemon did not exit on EOF, sending SIGTERM")
	_ = d.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-d.waitCh:
		d.started = false
		return
	case <-time.After(d.cfg.TermStop):
	}

	slog.Warn("Search daemon did not exit on SIGTERM, killing")
	_ = d.cmd.Process.Kill()
	<-d.waitCh
	d.started = false
}

// newRequestID returns a short hex correlation token.
func newRequestID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("failed to generate request id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
