package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lvcoi/hlsget/internal/hls"
)

// FetchResult is the outcome of exactly one fetch attempt for one segment.
type FetchResult struct {
	Seq     int
	Bytes   []byte
	Attempt int
	Status  int
	Err     error
}

// fetchSegment performs a single HTTP GET for one segment. It never retries:
// the coordinator owns the retry policy so attempt counts and backoff stay in
// one place. Every failure names the segment's sequence index and URL so a
// diagnostic is always attributable to a specific segment.
func fetchSegment(ctx context.Context, client *http.Client, seg hls.Segment, attempt int, timeout time.Duration) FetchResult {
	result := FetchResult{Seq: seg.Seq, Attempt: attempt}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.URL, nil)
	if err != nil {
		result.Err = fmt.Errorf("segment %d (%s): building request: %w", seg.Seq, seg.URL, err)
		return result
	}

	resp, err := client.Do(req)
	if err != nil {
		result.Err = fmt.Errorf("segment %d (%s): %w", seg.Seq, seg.URL, err)
		return result
	}
	defer resp.Body.Close()

	result.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Err = fmt.Errorf("segment %d (%s): unexpected status %d", seg.Seq, seg.URL, resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Err = fmt.Errorf("segment %d (%s): reading body: %w", seg.Seq, seg.URL, err)
		return result
	}

	result.Bytes = data
	return result
}
