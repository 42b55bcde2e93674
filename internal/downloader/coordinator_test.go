package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lvcoi/hlsget/internal/hls"
)

// segmentServer serves /seg/<n> with the payload "segment-<n>;" and lets a
// test inject per-segment failure counts.
type segmentServer struct {
	mu       sync.Mutex
	failures map[int]int // remaining 500s per segment
	*httptest.Server
}

func newSegmentServer(t *testing.T) *segmentServer {
	t.Helper()
	s := &segmentServer{failures: map[int]int{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seq, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/seg/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		s.mu.Lock()
		remaining := s.failures[seq]
		if remaining > 0 {
			s.failures[seq] = remaining - 1
		}
		s.mu.Unlock()
		if remaining > 0 {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "segment-%d;", seq)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *segmentServer) failSegment(seq, times int) {
	s.mu.Lock()
	s.failures[seq] = times
	s.mu.Unlock()
}

func (s *segmentServer) segments(n int) []hls.Segment {
	segs := make([]hls.Segment, n)
	for i := range segs {
		segs[i] = hls.Segment{Seq: i, URL: s.URL + "/seg/" + strconv.Itoa(i), Duration: 6}
	}
	return segs
}

func expectedPayload(seqs ...int) string {
	var b strings.Builder
	for _, seq := range seqs {
		fmt.Fprintf(&b, "segment-%d;", seq)
	}
	return b.String()
}

func testBackoff() backoffConfig {
	return backoffConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestCoordinator_OrderedAssembly(t *testing.T) {
	server := newSegmentServer(t)
	var buf bytes.Buffer
	coord := &Coordinator{
		Assembler:   newSinkAssembler(&buf),
		Concurrency: 4,
		MaxRetries:  2,
		Backoff:     testBackoff(),
	}

	report, err := coord.Run(context.Background(), server.segments(20))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Written != 20 {
		t.Fatalf("expected 20 written, got %d", report.Written)
	}
	if len(report.Failed) != 0 || report.Discarded != 0 {
		t.Fatalf("expected clean run, got failed=%v discarded=%d", report.Failed, report.Discarded)
	}
	coord.Assembler.Close()

	want := expectedPayload(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19)
	if got := buf.String(); got != want {
		t.Fatalf("segments out of order:\n got %q\nwant %q", got, want)
	}
}

func TestCoordinator_RetryThenSucceed(t *testing.T) {
	server := newSegmentServer(t)
	server.failSegment(3, 2)

	var buf bytes.Buffer
	coord := &Coordinator{
		Assembler:   newSinkAssembler(&buf),
		Concurrency: 2,
		MaxRetries:  3,
		Backoff:     testBackoff(),
	}

	report, err := coord.Run(context.Background(), server.segments(10))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Written != 10 {
		t.Fatalf("expected 10 written, got %d", report.Written)
	}
	if len(report.Failed) != 0 {
		t.Fatalf("segment 3 should have recovered, failed=%v", report.Failed)
	}
	coord.Assembler.Close()
	if got := buf.String(); got != expectedPayload(0, 1, 2, 3, 4, 5, 6, 7, 8, 9) {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestCoordinator_GapHalt(t *testing.T) {
	server := newSegmentServer(t)
	server.failSegment(2, 100) // never recovers

	var buf bytes.Buffer
	coord := &Coordinator{
		Assembler:   newSinkAssembler(&buf),
		Concurrency: 4,
		MaxRetries:  1,
		Backoff:     testBackoff(),
		Policy:      GapHalt,
	}

	report, err := coord.Run(context.Background(), server.segments(5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Written != 2 {
		t.Fatalf("expected 2 written before the gap, got %d", report.Written)
	}
	if len(report.Failed) != 1 || report.Failed[0] != 2 {
		t.Fatalf("expected failed=[2], got %v", report.Failed)
	}
	if report.Discarded != 2 {
		t.Fatalf("expected 2 discarded behind the gap, got %d", report.Discarded)
	}
	if got := report.Written + len(report.Failed) + report.Discarded; got != 5 {
		t.Fatalf("accounting broken: %d resolved of 5", got)
	}
	coord.Assembler.Close()
	if got := buf.String(); got != expectedPayload(0, 1) {
		t.Fatalf("bytes past the gap leaked into output: %q", got)
	}
}

func TestCoordinator_GapSkip(t *testing.T) {
	server := newSegmentServer(t)
	server.failSegment(2, 100)

	var buf bytes.Buffer
	coord := &Coordinator{
		Assembler:   newSinkAssembler(&buf),
		Concurrency: 4,
		MaxRetries:  1,
		Backoff:     testBackoff(),
		Policy:      GapSkip,
	}

	report, err := coord.Run(context.Background(), server.segments(5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Written != 4 {
		t.Fatalf("expected 4 written, got %d", report.Written)
	}
	if len(report.Failed) != 1 || report.Failed[0] != 2 {
		t.Fatalf("expected failed=[2], got %v", report.Failed)
	}
	if report.Discarded != 0 {
		t.Fatalf("expected 0 discarded under GapSkip, got %d", report.Discarded)
	}
	coord.Assembler.Close()
	if got := buf.String(); got != expectedPayload(0, 1, 3, 4) {
		t.Fatalf("unexpected output: %q", got)
	}
}

// failAfterWriter accepts limit bytes, then fails every write.
type failAfterWriter struct {
	limit   int
	written int
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	if w.written+len(p) > w.limit {
		return 0, errors.New("no space left on device")
	}
	w.written += len(p)
	return len(p), nil
}

func TestCoordinator_SinkFailureAborts(t *testing.T) {
	// Segments bigger than the assembler's buffer reach the sink on every
	// write, so the third one hits the full disk mid-run.
	const segSize = 64 << 10
	payload := bytes.Repeat([]byte("x"), segSize)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	segs := make([]hls.Segment, 6)
	for i := range segs {
		segs[i] = hls.Segment{Seq: i, URL: server.URL + "/seg/" + strconv.Itoa(i), Duration: 6}
	}

	sink := &failAfterWriter{limit: 2 * segSize}
	coord := &Coordinator{
		Assembler:   newSinkAssembler(sink),
		Concurrency: 2,
		MaxRetries:  1,
		Backoff:     testBackoff(),
	}

	report, err := coord.Run(context.Background(), segs)
	if err == nil {
		t.Fatal("expected the run to abort on the sink failure")
	}
	if CategoryOf(err) != CategoryFilesystem {
		t.Fatalf("expected filesystem category, got %v (%v)", CategoryOf(err), err)
	}
	if ExitCode(err) != 5 {
		t.Fatalf("expected exit code 5, got %d", ExitCode(err))
	}
	if report.Written != 2 {
		t.Fatalf("expected 2 segments written before the failure, got %d", report.Written)
	}
	if report.Bytes != 2*segSize {
		t.Fatalf("expected %d bytes in the report, got %d", 2*segSize, report.Bytes)
	}
}

func TestCoordinator_ProgressMonotonic(t *testing.T) {
	server := newSegmentServer(t)
	var buf bytes.Buffer

	var calls []int
	coord := &Coordinator{
		Assembler:   newSinkAssembler(&buf),
		Concurrency: 4,
		Backoff:     testBackoff(),
		Progress: func(resolved, total int) {
			calls = append(calls, resolved)
			if total != 12 {
				t.Errorf("expected total 12, got %d", total)
			}
		},
	}

	if _, err := coord.Run(context.Background(), server.segments(12)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(calls) != 12 {
		t.Fatalf("expected 12 progress calls, got %d", len(calls))
	}
	for i, resolved := range calls {
		if resolved != i+1 {
			t.Fatalf("progress not monotonic at call %d: %v", i, calls)
		}
	}
}

func TestCoordinator_Cancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	segs := []hls.Segment{
		{Seq: 0, URL: server.URL + "/seg/0"},
		{Seq: 1, URL: server.URL + "/seg/1"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	coord := &Coordinator{
		Assembler:   newSinkAssembler(&bytes.Buffer{}),
		Concurrency: 2,
		Backoff:     testBackoff(),
	}

	done := make(chan struct{})
	var runErr error
	go func() {
		_, runErr = coord.Run(ctx, segs)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop after cancellation")
	}
	if runErr == nil {
		t.Fatal("expected cancellation error")
	}
	if CategoryOf(runErr) != CategoryCancelled {
		t.Fatalf("expected cancelled category, got %v (%v)", CategoryOf(runErr), runErr)
	}
	if ExitCode(runErr) != 130 {
		t.Fatalf("expected exit code 130, got %d", ExitCode(runErr))
	}
}

func TestCoordinator_EmptySegmentList(t *testing.T) {
	coord := &Coordinator{Assembler: newSinkAssembler(&bytes.Buffer{})}
	report, err := coord.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Written != 0 || len(report.Failed) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}
