package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvcoi/hlsget/internal/app"
	"github.com/lvcoi/hlsget/internal/db"
	"github.com/lvcoi/hlsget/internal/downloader"
	"github.com/lvcoi/hlsget/internal/web"
)

func main() {
	var opts downloader.Options
	var jobs int
	var serveAddr string
	var showHistory bool

	flag.StringVar(&opts.OutputTemplate, "o", "{name}.{ext}", "output path or template (supports {name}, {ext})")
	flag.IntVar(&opts.Concurrency, "concurrency", 0, "parallel segment downloads (0=auto)")
	flag.IntVar(&opts.MaxRetries, "retries", 3, "retries per segment before it is marked failed")
	flag.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "per-segment request timeout")
	flag.DurationVar(&opts.LiveDuration, "live-duration", 0, "record a live stream for this long (0=treat as VOD)")
	flag.DurationVar(&opts.PollInterval, "poll-interval", 0, "live playlist poll interval (0=5s)")
	flag.StringVar(&opts.Variant, "variant", "", "variant to pick from a master playlist (best, worst, 720p, 1280x720, or bandwidth)")
	flag.BoolVar(&opts.NoConvert, "no-convert", false, "keep the raw MPEG-TS output, skip the mp4 remux")
	flag.BoolVar(&opts.Overwrite, "overwrite", false, "overwrite existing output files without prompting")
	flag.IntVar(&jobs, "jobs", 1, "number of concurrent downloads")
	flag.StringVar(&serveAddr, "serve", "", "run the web job server on this address (e.g. :8080) instead of downloading")
	flag.BoolVar(&showHistory, "history", false, "print recent download history and exit")
	flag.BoolVar(&opts.JSON, "json", false, "emit JSON results (suppresses human-readable progress)")
	flag.BoolVar(&opts.Quiet, "quiet", false, "suppress progress output (errors still shown)")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if showHistory {
		os.Exit(printHistory(opts.JSON))
	}

	if serveAddr != "" {
		if err := web.ListenAndServe(ctx, serveAddr, jobs); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	urls := flag.Args()
	if len(urls) == 0 {
		err := downloader.CategorizedError{Category: downloader.CategoryInvalidURL, Err: errors.New("no url provided")}
		if opts.JSON {
			writeJSONError("", err)
		} else {
			fmt.Fprintf(os.Stderr, "usage: %s [options] <url> [url...]\n", os.Args[0])
			flag.PrintDefaults()
		}
		os.Exit(downloader.ExitCode(err))
	}

	if opts.JSON {
		opts.Quiet = true
	}

	history := openHistory()
	if history != nil {
		opts.OnResult = recordSession(history)
	}

	var renderer *downloader.TUIRenderer
	if jobs > 1 && !opts.Quiet && stderrIsTerminal() {
		renderer = downloader.NewTUIRenderer()
		renderer.Start(ctx)
		opts.Renderer = renderer
	}

	results, exitCode := app.Run(ctx, urls, opts, jobs)

	if renderer != nil {
		renderer.Stop()
		renderer.Wait()
	}
	if history != nil {
		history.Close()
	}

	for _, res := range results {
		if opts.JSON {
			writeJSONResult(res)
		} else if res.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", res.Err)
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// openHistory returns nil when the history database cannot be opened; a
// download should not fail because bookkeeping did.
func openHistory() *db.DB {
	store, err := db.Open(db.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: download history disabled: %v\n", err)
		return nil
	}
	return store
}

func recordSession(store *db.DB) func(downloader.SessionResult, error) {
	return func(result downloader.SessionResult, err error) {
		rec := db.SessionRecord{
			SourceURL:       result.URL,
			OutputPath:      result.OutputPath,
			SegmentsWritten: result.Report.Written,
			SegmentsFailed:  len(result.Report.Failed),
			Bytes:           result.Report.Bytes,
			Live:            result.Live,
			Status:          "complete",
		}
		if err != nil {
			rec.Status = "error"
			rec.Error = err.Error()
		}
		if _, insErr := store.Insert(rec); insErr != nil {
			fmt.Fprintf(os.Stderr, "warning: recording history: %v\n", insErr)
		}
	}
}

func printHistory(asJSON bool) int {
	store, err := db.Open(db.DefaultPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer store.Close()

	records, err := store.List(50)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetEscapeHTML(false)
		_ = enc.Encode(records)
		return 0
	}
	if len(records) == 0 {
		fmt.Println("no download history")
		return 0
	}
	for _, rec := range records {
		kind := "vod"
		if rec.Live {
			kind = "live"
		}
		fmt.Printf("%s  %-8s %-4s %4d segments  %s  %s\n",
			rec.CreatedAt.Format("2006-01-02 15:04"),
			rec.Status, kind, rec.SegmentsWritten, humanSize(rec.Bytes), rec.OutputPath)
		if rec.Error != "" {
			fmt.Printf("    %s\n", rec.Error)
		}
	}
	return 0
}

func stderrIsTerminal() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}

func writeJSONResult(res app.Result) {
	if res.Err != nil {
		writeJSONError(res.URL, res.Err)
		return
	}
	payload := struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}{Type: "result", URL: res.URL}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(url string, err error) {
	payload := struct {
		Type     string `json:"type"`
		URL      string `json:"url,omitempty"`
		Category string `json:"category"`
		Error    string `json:"error"`
	}{
		Type:     "error",
		URL:      url,
		Category: string(downloader.CategoryOf(err)),
		Error:    err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
