package downloader

import (
	"sync/atomic"
	"time"
)

// segmentProgress drives the progress display from coordinator callbacks.
// The coordinator invokes it from the coordinating goroutine; updates are
// throttled so rendering never becomes a bottleneck for the pool. Byte counts
// ride along for the rate display but segments are the unit of progress.
type segmentProgress struct {
	printer    *Printer
	prefix     string
	taskID     string
	start      time.Time
	bytesFn    func() int64
	lastUpdate atomic.Int64 // Unix nanoseconds
	finished   atomic.Bool
}

func newSegmentProgress(printer *Printer, prefix string, total int, bytesFn func() int64) *segmentProgress {
	taskID := ""
	if printer != nil && printer.renderer != nil {
		taskID = printer.renderer.Register(prefix, int64(total))
	}
	sp := &segmentProgress{
		printer: printer,
		prefix:  prefix,
		taskID:  taskID,
		start:   time.Now(),
		bytesFn: bytesFn,
	}
	sp.lastUpdate.Store(sp.start.UnixNano())
	return sp
}

// Observe is the coordinator's ProgressFunc.
func (sp *segmentProgress) Observe(resolved, total int) {
	if sp == nil || sp.printer == nil || !sp.printer.progressEnabled {
		return
	}
	if resolved < total {
		// Throttle to at most 10 updates a second; the final update always
		// lands so the display never sticks short of 100%.
		now := time.Now().UnixNano()
		last := sp.lastUpdate.Load()
		if now-last < 100*time.Millisecond.Nanoseconds() {
			return
		}
		if !sp.lastUpdate.CompareAndSwap(last, now) {
			return
		}
	}
	sp.render(resolved, total)
}

func (sp *segmentProgress) render(resolved, total int) {
	if sp.finished.Load() {
		return
	}
	if sp.printer.renderer != nil && sp.taskID != "" {
		sp.printer.renderer.Update(sp.taskID, int64(resolved), int64(total))
		return
	}
	var bytes int64
	if sp.bytesFn != nil {
		bytes = sp.bytesFn()
	}
	line := sp.printer.progressLine(sp.prefix, int64(resolved), int64(total), bytes, time.Since(sp.start))
	sp.printer.writeProgressLine(line)
}

func (sp *segmentProgress) Finish() {
	if sp == nil || sp.printer == nil {
		return
	}
	if sp.finished.Swap(true) {
		return
	}
	if sp.printer.renderer != nil && sp.taskID != "" {
		sp.printer.renderer.Finish(sp.taskID)
		return
	}
	if sp.printer.progressEnabled {
		sp.printer.writeProgressLine("\n")
	}
}
