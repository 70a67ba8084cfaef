package harness

import (
	"bytes"
	"io"
	"regexp"
	"sync"
)

// filteredWriter relays a child process's output one line at a time, with a prefix, dropping
// any line that matches one of the exclusion patterns. A trailing partial line is held until
// more output arrives or Flush is called.
type filteredWriter struct {
	writer       io.Writer
	prefix       string
	excludeRegex []*regexp.Regexp
	pending      []byte
	lock         sync.Mutex
}

func newFilteredWriter(writer io.Writer, prefix string, excludeRegex []*regexp.Regexp) *filteredWriter {
	return &filteredWriter{writer: writer, prefix: prefix, excludeRegex: excludeRegex}
}

func (f *filteredWriter) Write(data []byte) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.pending = append(f.pending, data...)
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		line := f.pending[:i+1]
		f.pending = f.pending[i+1:]
		if err := f.writeLine(line); err != nil {
			return len(data), err
		}
	}
	return len(data), nil
}

// Flush writes out any incomplete last line.
func (f *filteredWriter) Flush() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.pending) == 0 {
		return nil
	}
	line := append(f.pending, '\n')
	f.pending = nil
	return f.writeLine(line)
}

func (f *filteredWriter) writeLine(line []byte) error {
	for _, r := range f.excludeRegex {
		if r.Match(line) {
			return nil
		}
	}
	_, err := f.writer.Write(append([]byte(f.prefix), line...))
	return err
}
