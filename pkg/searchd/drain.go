package searchd

import (
	"bufio"
	"io"
	"log/slog"
)

// drainStderr forwards daemon stderr lines to the log so JVM warnings and
// index warmup progress stay visible.
func drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Info("[searchd]", "line", scanner.Text())
	}
}
