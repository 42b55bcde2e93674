package downloader

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/lvcoi/hlsget/internal/hls"
)

// GapPolicy decides what happens to segments buffered behind a permanently
// failed one.
type GapPolicy int

const (
	// GapHalt stops assembly at the first permanent gap. Everything before
	// the gap is written; later segments still resolve (so the report is
	// complete) but their bytes are discarded. A seekable file with a silent
	// hole in the middle is worse than a shorter complete one.
	GapHalt GapPolicy = iota

	// GapSkip writes past permanent gaps. Used for live recording, where
	// partial data has standalone value.
	GapSkip
)

// Report summarizes one coordinator run. Written + len(Failed) + Discarded
// equals the segment count the run was given, unless the run was cancelled
// or aborted by a sink failure.
type Report struct {
	Written   int
	Failed    []int
	Discarded int
	Bytes     int64
}

// ProgressFunc observes resolved-segment counts. Called from the coordinating
// goroutine after every resolved segment (success or terminal failure), with
// resolved monotonically increasing. It must not block.
type ProgressFunc func(resolved, total int)

// Coordinator fans segment fetches out across a bounded worker pool and
// funnels every result back to a single goroutine that owns all run state.
// Workers never touch shared state; they only execute fetches and report on
// a channel, so the ordering invariant needs no locking at all.
type Coordinator struct {
	Client      *http.Client
	Assembler   *Assembler
	Concurrency int
	MaxRetries  int
	Timeout     time.Duration
	Backoff     backoffConfig
	Policy      GapPolicy
	Progress    ProgressFunc
	Logf        func(format string, args ...any)
}

// DefaultConcurrency is the fetch slot count used when none is configured.
const DefaultConcurrency = 8

type fetchTask struct {
	seg     hls.Segment
	attempt int
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// Run downloads segments and hands them to the assembler in strict ascending
// sequence order regardless of completion order. It returns when every
// segment is resolved, when the context is cancelled, or when an assembler
// write fails; the Report always reflects actual partial progress.
func (c *Coordinator) Run(ctx context.Context, segments []hls.Segment) (Report, error) {
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(segments) {
		concurrency = len(segments)
	}
	backoff := c.Backoff
	if backoff.BaseDelay <= 0 {
		backoff = defaultBackoffConfig
	}
	client := c.Client
	if client == nil {
		client = newHTTPClient()
	}

	if len(segments) == 0 {
		return Report{}, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan fetchTask)
	results := make(chan FetchResult)

	for i := 0; i < concurrency; i++ {
		go func() {
			for {
				select {
				case <-runCtx.Done():
					return
				case task := <-work:
					result := fetchSegment(runCtx, client, task.seg, task.attempt, c.Timeout)
					select {
					case results <- result:
					case <-runCtx.Done():
						return
					}
				}
			}
		}()
	}

	// Feed initial tasks without tying up the coordinating goroutine. A
	// segment is dispatched to a fetch slot as soon as one frees, regardless
	// of sequence order.
	go func() {
		for _, seg := range segments {
			select {
			case work <- fetchTask{seg: seg}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	// Run state. Owned exclusively by this goroutine.
	total := len(segments)
	resolved := 0
	next := segments[0].Seq
	completed := make(map[int][]byte)
	failedSet := make(map[int]bool)
	var failed []int
	bySeq := make(map[int]hls.Segment, len(segments))
	for _, seg := range segments {
		bySeq[seg.Seq] = seg
	}
	startWritten := c.Assembler.Written()
	startBytes := c.Assembler.Bytes()

	// flush hands contiguously completed segments to the assembler. Under
	// GapHalt a permanently failed index simply never appears in completed,
	// so the cursor parks there and everything behind it stays buffered.
	flush := func() error {
		for {
			if data, ok := completed[next]; ok {
				if err := c.Assembler.Write(next, data); err != nil {
					return err
				}
				delete(completed, next)
				next++
				continue
			}
			if c.Policy == GapSkip && failedSet[next] {
				next++
				continue
			}
			return nil
		}
	}

	finalize := func() Report {
		sort.Ints(failed)
		return Report{
			Written:   c.Assembler.Written() - startWritten,
			Failed:    failed,
			Discarded: len(completed),
			Bytes:     c.Assembler.Bytes() - startBytes,
		}
	}

	for resolved < total {
		select {
		case <-ctx.Done():
			return finalize(), wrapCategory(CategoryCancelled, fmt.Errorf("session cancelled: %w", ctx.Err()))

		case result := <-results:
			if result.Err != nil && result.Attempt < c.MaxRetries {
				task := fetchTask{seg: bySeq[result.Seq], attempt: result.Attempt + 1}
				delay := backoff.delay(result.Attempt)
				c.logf("segment %d attempt %d failed, retrying in %s: %v",
					result.Seq, result.Attempt, delay.Round(time.Millisecond), result.Err)
				// Back off outside the pool so a flaky segment does not
				// occupy a fetch slot while it waits.
				go func() {
					if sleepWithContext(runCtx, delay) != nil {
						return
					}
					select {
					case work <- task:
					case <-runCtx.Done():
					}
				}()
				continue
			}

			if result.Err != nil {
				// Retries exhausted: resolved, but never written.
				c.logf("segment %d failed permanently after attempt %d: %v",
					result.Seq, result.Attempt, result.Err)
				failedSet[result.Seq] = true
				failed = append(failed, result.Seq)
			} else {
				completed[result.Seq] = result.Bytes
			}
			resolved++

			if err := flush(); err != nil {
				cancel()
				return finalize(), err
			}
			if c.Progress != nil {
				c.Progress(resolved, total)
			}
		}
	}

	return finalize(), nil
}
