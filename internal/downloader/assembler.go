package downloader

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Assembler appends segment bytes to the output sink in the strict order the
// coordinator hands them over. It owns the output file handle for the whole
// session and knows nothing about retries or concurrency.
type Assembler struct {
	file    *os.File
	w       *bufio.Writer
	next    int
	written int
	bytes   int64
	closed  bool
}

// NewAssembler opens path for writing, creating parent directories as needed.
func NewAssembler(path string) (*Assembler, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("creating output directory: %w", err))
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, wrapCategory(CategoryFilesystem, fmt.Errorf("opening output file: %w", err))
	}
	return &Assembler{file: file, w: bufio.NewWriterSize(file, 1<<20)}, nil
}

// newSinkAssembler wraps an arbitrary writer. Used by tests and by callers
// that manage the sink themselves.
func newSinkAssembler(w io.Writer) *Assembler {
	return &Assembler{w: bufio.NewWriter(w)}
}

// Write appends one segment. Calls must arrive with strictly increasing
// sequence indices; an index may be skipped only when the coordinator has
// deliberately skipped a permanent gap. Anything else is a coordinator bug.
func (a *Assembler) Write(seq int, data []byte) error {
	if a.closed {
		return wrapCategory(CategoryFilesystem, fmt.Errorf("write segment %d: assembler closed", seq))
	}
	if seq < a.next {
		return wrapCategory(CategoryFilesystem, fmt.Errorf("write segment %d: already past segment %d", seq, a.next))
	}
	if _, err := a.w.Write(data); err != nil {
		return wrapCategory(CategoryFilesystem, fmt.Errorf("writing segment %d: %w", seq, err))
	}
	a.next = seq + 1
	a.written++
	a.bytes += int64(len(data))
	return nil
}

// Written reports the count of segments flushed so far.
func (a *Assembler) Written() int {
	return a.written
}

// Bytes reports the total bytes handed to the sink so far.
func (a *Assembler) Bytes() int64 {
	return a.bytes
}

// Close flushes buffered bytes and syncs the file. Safe to call on every exit
// path, including cancellation and fatal errors; the first error wins.
func (a *Assembler) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	flushErr := a.w.Flush()
	if a.file == nil {
		if flushErr != nil {
			return wrapCategory(CategoryFilesystem, fmt.Errorf("flushing output: %w", flushErr))
		}
		return nil
	}

	syncErr := a.file.Sync()
	closeErr := a.file.Close()
	switch {
	case flushErr != nil:
		return wrapCategory(CategoryFilesystem, fmt.Errorf("flushing output: %w", flushErr))
	case syncErr != nil:
		return wrapCategory(CategoryFilesystem, fmt.Errorf("syncing output: %w", syncErr))
	case closeErr != nil:
		return wrapCategory(CategoryFilesystem, fmt.Errorf("closing output: %w", closeErr))
	}
	return nil
}
