package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lvcoi/hlsget/internal/hls"
	"github.com/lvcoi/hlsget/internal/remux"
)

// SessionResult is what one playlist URL produced.
type SessionResult struct {
	URL         string
	Report      Report
	OutputPath  string
	Live        bool
	skipped     bool
	hadProgress bool
}

// Process downloads one playlist URL end to end: fetch, variant selection,
// segment download and assembly, and the ffmpeg remux handoff.
func Process(ctx context.Context, rawURL string, opts Options) error {
	printer := newPrinter(opts)
	prefix := printer.Prefix(1, 1, rawURL)
	result, err := run(ctx, rawURL, opts, printer, prefix)
	if opts.OnResult != nil && !result.skipped {
		opts.OnResult(result, err)
	}
	if result.skipped {
		printer.ItemResult(prefix, result, nil)
		return nil
	}
	printer.ItemResult(prefix, result, err)
	if err != nil {
		return err
	}
	printer.Summary(1, 1, 0, result.Report.Bytes)
	return nil
}

// run is the shared session body; the multi-URL runner calls it directly so
// it can own prefix numbering and the summary line.
func run(ctx context.Context, rawURL string, opts Options, printer *Printer, prefix string) (SessionResult, error) {
	result := SessionResult{URL: rawURL}

	playlistURL, err := validateURL(rawURL)
	if err != nil {
		return result, err
	}

	client := newHTTPClient()
	doc, err := fetchPlaylist(ctx, client, playlistURL.String())
	if err != nil {
		return result, err
	}

	if doc.Master {
		variant, err := chooseVariant(doc.Variants, opts)
		if err != nil {
			return result, err
		}
		printer.Infof("selected variant: %s %s (%d bps)", variant.Resolution, variant.Codecs, variant.Bandwidth)
		playlistURL, err = url.Parse(variant.URL)
		if err != nil {
			return result, wrapCategory(CategoryInvalidURL, fmt.Errorf("variant URL: %w", err))
		}
		doc, err = fetchPlaylist(ctx, client, variant.URL)
		if err != nil {
			return result, err
		}
		if doc.Master {
			return result, wrapCategory(CategoryPlaylist, errors.New("variant playlist is itself a master playlist"))
		}
	}

	if doc.Encrypted {
		return result, wrapCategory(CategoryUnsupported,
			fmt.Errorf("playlist uses %s encryption; segment decryption is not supported", doc.KeyMethod))
	}

	result.Live = doc.Live && opts.LiveDuration > 0

	ext := "mp4"
	if opts.NoConvert {
		ext = "ts"
	} else if !remux.Available() {
		printer.Warnf("ffmpeg not found; keeping MPEG-TS output")
		opts.NoConvert = true
		ext = "ts"
	}
	outPath := resolveOutputPath(opts.OutputTemplate, outputName(playlistURL), ext)
	outPath, skip, err := handleExistingPath(outPath, opts)
	if err != nil {
		return result, err
	}
	if skip {
		result.skipped = true
		result.OutputPath = outPath
		return result, nil
	}
	result.OutputPath = outPath

	tsPath := outPath
	if !opts.NoConvert {
		tsPath = outPath + ".download.ts"
	}

	assembler, err := NewAssembler(tsPath)
	if err != nil {
		return result, err
	}

	total := len(doc.Segments)
	if result.Live {
		total = 0 // grows as polling discovers segments
	}
	progress := newSegmentProgress(printer, prefix, total, assembler.Bytes)
	result.hadProgress = printer.progressEnabled

	coord := &Coordinator{
		Client:      client,
		Assembler:   assembler,
		Concurrency: opts.concurrency(),
		MaxRetries:  opts.maxRetries(),
		Timeout:     opts.Timeout,
		Policy:      GapHalt,
		Progress:    combineProgress(progress.Observe, opts.Progress),
		Logf:        printer.Debugf,
	}

	var report Report
	var runErr error
	if result.Live {
		recorder := &Recorder{
			Coordinator:  coord,
			PlaylistURL:  playlistURL.String(),
			Target:       opts.LiveDuration,
			PollInterval: opts.PollInterval,
		}
		report, runErr = recorder.Record(ctx)
	} else {
		report, runErr = coord.Run(ctx, doc.Segments)
	}
	progress.Finish()
	result.Report = report

	closeErr := assembler.Close()
	if runErr != nil {
		if !opts.NoConvert {
			_ = os.Remove(tsPath)
		}
		return result, runErr
	}
	if closeErr != nil {
		if !opts.NoConvert {
			_ = os.Remove(tsPath)
		}
		return result, closeErr
	}

	for _, seq := range report.Failed {
		printer.Warnf("segment %d was never downloaded", seq)
	}
	if report.Discarded > 0 {
		printer.Warnf("%d segments after the first gap were discarded", report.Discarded)
	}

	if opts.NoConvert {
		return result, nil
	}

	// Remux handoff: the assembled file is complete and closed before ffmpeg
	// ever sees it.
	if err := convertOutput(ctx, tsPath, outPath, printer); err != nil {
		_ = os.Remove(tsPath)
		return result, err
	}
	_ = os.Remove(tsPath)
	return result, nil
}

func convertOutput(ctx context.Context, tsPath, outPath string, printer *Printer) error {
	duration, err := remux.ProbeDuration(tsPath)
	if err != nil {
		printer.Debugf("ffprobe failed, converting without a duration estimate: %v", err)
		duration = 0
	}

	var taskID string
	if printer.renderer != nil {
		taskID = printer.renderer.Register("converting", int64(duration.Seconds()))
	}
	err = remux.Convert(ctx, tsPath, outPath, func(done time.Duration) {
		if taskID != "" {
			printer.renderer.Update(taskID, int64(done.Seconds()), int64(duration.Seconds()))
		}
	})
	if taskID != "" {
		printer.renderer.Finish(taskID)
	}
	if err != nil {
		return wrapCategory(CategoryRemux, fmt.Errorf("converting to mp4: %w", err))
	}
	return nil
}

func combineProgress(funcs ...ProgressFunc) ProgressFunc {
	return func(resolved, total int) {
		for _, f := range funcs {
			if f != nil {
				f(resolved, total)
			}
		}
	}
}

// fetchPlaylist retrieves and parses a playlist, resolving relative segment
// URIs against the playlist's own URL.
func fetchPlaylist(ctx context.Context, client *http.Client, rawURL string) (hls.Document, error) {
	if client == nil {
		client = newHTTPClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return hls.Document{}, wrapCategory(CategoryInvalidURL, fmt.Errorf("building playlist request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		return hls.Document{}, wrapCategory(CategoryNetwork, fmt.Errorf("fetching playlist: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return hls.Document{}, wrapCategory(CategoryNetwork, fmt.Errorf("fetching playlist: unexpected status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return hls.Document{}, wrapCategory(CategoryNetwork, fmt.Errorf("reading playlist: %w", err))
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		base = nil
	}
	doc, err := hls.Parse(data, base)
	if err != nil {
		return hls.Document{}, wrapCategory(CategoryPlaylist, err)
	}
	return doc, nil
}

// DownloadMediaPlaylist is the embeddable core interface: it downloads an
// already-parsed media playlist to outputPath with no remux, no variant
// selection, and no terminal output beyond the optional progress callback.
func DownloadMediaPlaylist(ctx context.Context, doc hls.Document, outputPath string, opts Options) (Report, error) {
	if doc.Master {
		return Report{}, wrapCategory(CategoryPlaylist, errors.New("cannot download a master playlist; select a variant first"))
	}
	assembler, err := NewAssembler(outputPath)
	if err != nil {
		return Report{}, err
	}
	coord := &Coordinator{
		Assembler:   assembler,
		Concurrency: opts.concurrency(),
		MaxRetries:  opts.maxRetries(),
		Timeout:     opts.Timeout,
		Policy:      GapHalt,
		Progress:    opts.Progress,
	}
	report, runErr := coord.Run(ctx, doc.Segments)
	closeErr := assembler.Close()
	if runErr != nil {
		return report, runErr
	}
	return report, closeErr
}

// RecordLive is the embeddable live-capture interface: it polls playlistURL
// and appends newly discovered segments to outputPath until target elapses
// or the stream ends.
func RecordLive(ctx context.Context, playlistURL string, target, pollInterval time.Duration, outputPath string, opts Options) (Report, error) {
	if _, err := validateURL(playlistURL); err != nil {
		return Report{}, err
	}
	assembler, err := NewAssembler(outputPath)
	if err != nil {
		return Report{}, err
	}
	recorder := &Recorder{
		Coordinator: &Coordinator{
			Assembler:   assembler,
			Concurrency: opts.concurrency(),
			MaxRetries:  opts.maxRetries(),
			Timeout:     opts.Timeout,
			Progress:    opts.Progress,
		},
		PlaylistURL:  playlistURL,
		Target:       target,
		PollInterval: pollInterval,
	}
	report, runErr := recorder.Record(ctx)
	closeErr := assembler.Close()
	if runErr != nil {
		return report, runErr
	}
	return report, closeErr
}

func resolveOutputPath(template, name, ext string) string {
	if template == "" {
		template = "{name}.{ext}"
	}

	replacer := strings.NewReplacer(
		"{name}", name,
		"{ext}", ext,
	)
	path := replacer.Replace(template)

	// Treat existing directory or explicit trailing slash as "put file inside".
	if strings.HasSuffix(template, "/") {
		path = filepath.Join(path, fmt.Sprintf("%s.%s", name, ext))
	} else if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("%s.%s", name, ext))
	}

	if filepath.Ext(path) == "" {
		path = path + "." + ext
	}
	return path
}

func handleExistingPath(path string, opts Options) (string, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return path, false, nil
		}
		return "", false, wrapCategory(CategoryFilesystem, err)
	}
	if info.IsDir() {
		return "", false, wrapCategory(CategoryFilesystem, fmt.Errorf("output path is a directory: %s", path))
	}
	if opts.Overwrite {
		return path, false, nil
	}

	if !isTerminal(os.Stdin) {
		fmt.Fprintf(os.Stderr, "warning: %s exists; overwriting (stdin not a TTY)\n", path)
		return path, false, nil
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "%s exists. [o]verwrite, [s]kip, [r]ename, [q]uit? ", path)
		line, readErr := reader.ReadString('\n')
		if readErr != nil {
			return "", false, wrapCategory(CategoryFilesystem, readErr)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "o", "overwrite":
			return path, false, nil
		case "s", "skip":
			return path, true, nil
		case "r", "rename":
			newPath, err := nextAvailablePath(path)
			if err != nil {
				return "", false, err
			}
			return newPath, false, nil
		case "q", "quit":
			return "", false, wrapCategory(CategoryCancelled, errors.New("aborted by user"))
		default:
			fmt.Fprintln(os.Stderr, "please enter o, s, r, or q")
		}
	}
}

func nextAvailablePath(path string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	for i := 1; i < 10000; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", name, i, ext))
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return candidate, nil
			}
			return "", wrapCategory(CategoryFilesystem, err)
		}
	}
	return "", wrapCategory(CategoryFilesystem, fmt.Errorf("unable to find available filename for %s", path))
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func sanitize(name string) string {
	invalid := regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	clean := invalid.ReplaceAllString(name, "-")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "stream"
	}
	return clean
}
