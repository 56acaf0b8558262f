package node

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// LogFormat tells the handle how to read a member's log lines.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	// LogFormatJSON logs carry one JSON object per line; only the message
	// field is visible to log checks.
	LogFormatJSON LogFormat = "json"
)

// Mark records log sizes at a point in time.
type Mark map[string]int64

// LogMark captures the current end of every log the member writes.
func (h *Handle) LogMark() (Mark, error) {
	mark := make(Mark)
	for _, path := range h.logPaths() {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat log %s: %w", path, err)
		}
		mark[path] = info.Size()
	}

	return mark, nil
}

// LogText returns the member's whole accumulated log text.
func (h *Handle) LogText() (string, error) {
	return h.LogSince(nil)
}

// LogSince returns the log text written after mark. A log that shrank since
// the mark was taken is read from the beginning.
func (h *Handle) LogSince(mark Mark) (string, error) {
	var sb strings.Builder
	for _, path := range h.logPaths() {
		raw, err := readFrom(path, mark[path])
		if err != nil {
			return "", err
		}
		h.normalize(&sb, raw)
	}

	return sb.String(), nil
}

// ContainsInLog scans the accumulated log once; it never waits.
func (h *Handle) ContainsInLog(substring string) (bool, error) {
	text, err := h.LogText()
	if err != nil {
		return false, err
	}

	return strings.Contains(text, substring), nil
}

func (h *Handle) logPaths() []string {
	paths := []string{h.logPath}
	if h.spec.ServerLog != "" {
		paths = append(paths, h.spec.ServerLog)
	}
	return paths
}

func readFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log %s: %w", path, err)
	}
	if offset > info.Size() {
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek log %s: %w", path, err)
	}

	return io.ReadAll(f)
}

func (h *Handle) normalize(sb *strings.Builder, raw []byte) {
	if h.spec.LogFormat != LogFormatJSON {
		sb.Write(raw)
		return
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !gjson.Valid(line) {
			// Startup banners are often plain text even in JSON mode
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}

		if msg := gjson.Get(line, h.spec.MessageField); msg.Exists() {
			sb.WriteString(msg.String())
			sb.WriteByte('\n')
		}
	}
}
