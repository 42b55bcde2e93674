package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/lvcoi/hlsget/internal/hls"
)

// Recorder captures a live (non-terminated) playlist by polling it and
// feeding newly appended segments into the coordinator pipeline until the
// target duration elapses, the stream ends, or the context is cancelled.
type Recorder struct {
	Coordinator  *Coordinator
	PlaylistURL  string
	Target       time.Duration
	PollInterval time.Duration
}

const defaultPollInterval = 5 * time.Second

// Record runs the poll/drain loop. Segment indices are made global across
// poll cycles (media-sequence offset when the playlist advertises one,
// position otherwise), so each cycle's indices are strictly greater than the
// previous cycle's maximum and ordering holds for the whole recording.
func (r *Recorder) Record(ctx context.Context) (Report, error) {
	poll := r.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	// A gap in a live recording is worth less than the rest of the capture.
	r.Coordinator.Policy = GapSkip

	var report Report
	start := time.Now()
	nextSeq := 0

	progress := r.Coordinator.Progress
	discovered := 0
	resolvedBefore := 0

	for {
		if err := ctx.Err(); err != nil {
			return report, wrapCategory(CategoryCancelled, fmt.Errorf("recording cancelled: %w", err))
		}

		doc, err := fetchPlaylist(ctx, r.Coordinator.Client, r.PlaylistURL)
		if err != nil {
			return report, err
		}
		if doc.Master {
			return report, wrapCategory(CategoryPlaylist, fmt.Errorf("cannot record a master playlist; select a variant first"))
		}

		fresh := newSegments(doc, nextSeq)
		if len(fresh) > 0 {
			nextSeq = fresh[len(fresh)-1].Seq + 1
			discovered += len(fresh)

			// Re-offset the pass-local progress into recording-wide counts.
			base := resolvedBefore
			if progress != nil {
				r.Coordinator.Progress = func(resolved, total int) {
					progress(base+resolved, discovered)
				}
			}
			passReport, err := r.Coordinator.Run(ctx, fresh)
			report = accumulate(report, passReport)
			resolvedBefore += len(fresh)
			if err != nil {
				return report, err
			}
		}

		if !doc.Live {
			// End-of-stream tag appeared; the recording is complete.
			return report, nil
		}
		if time.Since(start) >= r.Target {
			return report, nil
		}
		if len(fresh) == 0 {
			if err := sleepWithContext(ctx, poll); err != nil {
				return report, wrapCategory(CategoryCancelled, fmt.Errorf("recording cancelled: %w", err))
			}
		}
	}
}

// newSegments renumbers a polled playlist into global sequence indices and
// returns only the segments not seen in earlier cycles. Playlists that
// advertise #EXT-X-MEDIA-SEQUENCE keep their absolute numbering; otherwise
// position of appearance is used, which assumes an append-only playlist (the
// shape the position rule defines).
func newSegments(doc hls.Document, nextSeq int) []hls.Segment {
	var fresh []hls.Segment
	for _, seg := range doc.Segments {
		abs := doc.MediaSequence + seg.Seq
		if abs < nextSeq {
			continue
		}
		seg.Seq = abs
		fresh = append(fresh, seg)
	}
	return fresh
}

func accumulate(total, pass Report) Report {
	total.Written += pass.Written
	total.Failed = append(total.Failed, pass.Failed...)
	total.Discarded += pass.Discarded
	total.Bytes += pass.Bytes
	return total
}
