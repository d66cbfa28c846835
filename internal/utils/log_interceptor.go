// Package utils provides small helpers shared by the treesync commands and packages.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LogInterceptor implements io.Writer and prefixes every complete line written to it
// with a sequence number and a timestamp before forwarding it to the target.
// Partial lines are buffered until their newline arrives or Close is called.
type LogInterceptor struct {
	target         io.Writer
	sequenceNumber atomic.Uint64
	mu             sync.Mutex
	pending        bytes.Buffer
	now            func() time.Time
}

// NewLogInterceptor creates a new LogInterceptor writing to target
func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target: target,
		now:    time.Now,
	}
}

func (i *LogInterceptor) writeFormattedLine(line []byte) error {
	lineNum := i.sequenceNumber.Add(1)

	var buf bytes.Buffer
	buf.WriteString(slog.Uint64("line", lineNum).String())
	buf.WriteByte(' ')
	buf.WriteString(slog.String("time", i.now().Format(time.RFC3339)).String())
	buf.WriteByte(' ')
	buf.Write(line)
	buf.WriteByte('\n')

	_, err := i.target.Write(buf.Bytes())
	return err
}

// Write implements io.Writer. It always reports len(p) on success so that slog
// handlers do not treat the added prefix as a short write.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(i.pending.Next(idx+1), []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if err := i.writeFormattedLine(line); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// Close flushes any remaining partial line to the target writer.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	remaining := append([]byte(nil), i.pending.Bytes()...)
	i.pending.Reset()
	return i.writeFormattedLine(remaining)
}
