package downloader

import "time"

// Options describes CLI behavior for a download run.
type Options struct {
	OutputTemplate string
	Concurrency    int
	MaxRetries     int
	Timeout        time.Duration
	LiveDuration   time.Duration
	PollInterval   time.Duration
	Variant        string
	NoConvert      bool
	Overwrite      bool
	Quiet          bool
	JSON           bool
	LogLevel       string

	// Progress, when set, observes {resolved, total} for every session in
	// addition to the printer's own display.
	Progress ProgressFunc

	// Renderer overrides the default progress display; the web job pool
	// injects one that broadcasts over WebSocket.
	Renderer ProgressRenderer

	// OnResult, when set, receives every finished session. The CLI uses it
	// to record download history.
	OnResult func(result SessionResult, err error)
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return DefaultConcurrency
}

func (o Options) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}
