// Package web serves the local job UI: a REST API for queueing playlist
// downloads and a WebSocket feed of their progress.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/lvcoi/hlsget/internal/downloader"
	"github.com/lvcoi/hlsget/internal/ws"
)

//go:embed assets/*
var embeddedAssets embed.FS

const maxRequestBodyBytes = 1 << 20 // 1 MiB

var tracker = &jobTracker{}

type DownloadRequest struct {
	URLs    []string  `json:"urls"`
	Options WebOption `json:"options"`
}

type WebOption struct {
	Output              string `json:"output"`
	Concurrency         int    `json:"concurrency"`
	Retries             int    `json:"retries"`
	TimeoutSeconds      int    `json:"timeout"`
	LiveDurationSeconds int    `json:"live-duration"`
	PollIntervalSeconds int    `json:"poll-interval"`
	Variant             string `json:"variant"`
	NoConvert           bool   `json:"no-convert"`
}

type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

// validateWebOutputTemplate keeps API-supplied templates inside the working
// directory: no absolute paths, no parent references, no directory components
// in the literal prefix before the first placeholder.
func validateWebOutputTemplate(tmpl string) error {
	if strings.TrimSpace(tmpl) == "" {
		return nil
	}
	if strings.Contains(tmpl, "..") {
		return fmt.Errorf("invalid output template: parent directory references are not allowed")
	}
	if strings.HasPrefix(tmpl, "/") || strings.HasPrefix(tmpl, `\\`) {
		return fmt.Errorf("invalid output template: absolute paths are not allowed")
	}
	if len(tmpl) >= 2 && ((tmpl[0] >= 'A' && tmpl[0] <= 'Z') || (tmpl[0] >= 'a' && tmpl[0] <= 'z')) && tmpl[1] == ':' {
		return fmt.Errorf("invalid output template: absolute paths are not allowed")
	}
	prefixEnd := strings.Index(tmpl, "{")
	if prefixEnd == -1 {
		prefixEnd = len(tmpl)
	}
	if literal := tmpl[:prefixEnd]; strings.Contains(literal, "/") || strings.Contains(literal, `\`) {
		return fmt.Errorf("invalid output template: directory components are not allowed in the literal prefix")
	}
	return nil
}

func parseDownloadRequest(w http.ResponseWriter, r *http.Request) (*DownloadRequest, downloader.Options, *requestError) {
	var req DownloadRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		return nil, downloader.Options{}, err
	}
	if len(req.URLs) == 0 {
		return nil, downloader.Options{}, &requestError{http.StatusBadRequest, "no urls provided"}
	}
	if err := validateWebOutputTemplate(req.Options.Output); err != nil {
		return nil, downloader.Options{}, &requestError{http.StatusBadRequest, err.Error()}
	}

	opts := downloader.Options{
		OutputTemplate: req.Options.Output,
		Concurrency:    req.Options.Concurrency,
		MaxRetries:     req.Options.Retries,
		Timeout:        time.Duration(req.Options.TimeoutSeconds) * time.Second,
		LiveDuration:   time.Duration(req.Options.LiveDurationSeconds) * time.Second,
		PollInterval:   time.Duration(req.Options.PollIntervalSeconds) * time.Second,
		Variant:        req.Options.Variant,
		NoConvert:      req.Options.NoConvert,
		Overwrite:      true,
		Quiet:          true,
	}
	return &req, opts, nil
}

// ListenAndServe runs the job server until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, workers int) error {
	startedAt := time.Now()

	hub := ws.NewHub()
	go hub.Run()
	pool := downloader.NewPool(workers, hub)
	pool.Start(ctx)
	defer pool.Stop()

	tracker.StartCleanup(ctx, jobCleanupInterval, jobCompletedTTL, jobErroredTTL)

	assets, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			req, opts, reqErr := parseDownloadRequest(w, r)
			if reqErr != nil {
				writeJSONError(w, reqErr.status, reqErr.message)
				return
			}
			ids := make([]string, 0, len(req.URLs))
			for _, u := range req.URLs {
				job := tracker.Create(u)
				ids = append(ids, job.ID)
				pool.AddTask(downloader.Task{
					ID:      job.ID,
					URL:     u,
					Options: opts,
					Execute: func(ctx context.Context, url string, opts downloader.Options) error {
						job.SetStatus("running")
						return downloader.Process(ctx, url, opts)
					},
					OnFinish: func(id string, err error) {
						job.SetOutcome(downloader.ExitCode(err), err)
					},
				})
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status": "queued",
				"jobIds": ids,
			})
		case http.MethodGet:
			jobs := tracker.List()
			out := make([]Job, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, j.Snapshot())
			}
			writeJSON(w, http.StatusOK, out)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		job, ok := tracker.Get(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job.Snapshot())
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"active_downloads": tracker.ActiveCount(),
			"ws_clients":       hub.ClientCount(),
			"uptime":           time.Since(startedAt).Truncate(time.Second).String(),
		})
	})

	mux.HandleFunc("/ws", hub.Handle)

	fileServer := http.FileServer(http.FS(assets))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		if r.URL.Path == "/" {
			serveIndex(w, assets)
			return
		}
		if fileExists(assets, strings.TrimPrefix(r.URL.Path, "/")) {
			fileServer.ServeHTTP(w, r)
			return
		}
		serveIndex(w, assets)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           withSecurityHeaders(mux),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Error: message})
}

func serveIndex(w http.ResponseWriter, assets fs.FS) {
	data, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		http.Error(w, "missing index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func fileExists(assets fs.FS, name string) bool {
	if name == "" {
		return false
	}
	f, err := assets.Open(name)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const cspValue = "default-src 'self'; base-uri 'self'; frame-ancestors 'none'; object-src 'none'; script-src 'self'; style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", cspValue)
		next.ServeHTTP(w, r)
	})
}
