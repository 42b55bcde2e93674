package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/lvcoi/hlsget/internal/downloader"
)

func newVODServer(t *testing.T) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seq, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/seg/")); err == nil {
			fmt.Fprintf(w, "segment-%d;", seq)
			return
		}
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), ".m3u8")
		if name == "missing" {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString("#EXTM3U\n")
		for i := 0; i < 2; i++ {
			fmt.Fprintf(&b, "#EXTINF:6.0,\n%s/seg/%d\n", server.URL, i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		fmt.Fprint(w, b.String())
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRun_MultipleURLs(t *testing.T) {
	server := newVODServer(t)
	dir := t.TempDir()

	urls := []string{server.URL + "/first.m3u8", server.URL + "/second.m3u8"}
	opts := downloader.Options{
		OutputTemplate: filepath.Join(dir, "{name}.{ext}"),
		NoConvert:      true,
		Quiet:          true,
	}

	results, exitCode := Run(context.Background(), urls, opts, 2)
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("%s failed: %v", res.URL, res.Err)
		}
	}
	for _, name := range []string{"first.ts", "second.ts"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing output %s: %v", name, err)
		}
	}
}

func TestRun_AggregatesExitCode(t *testing.T) {
	server := newVODServer(t)
	dir := t.TempDir()

	urls := []string{
		server.URL + "/good.m3u8",
		server.URL + "/missing.m3u8",
	}
	opts := downloader.Options{
		OutputTemplate: filepath.Join(dir, "{name}.{ext}"),
		NoConvert:      true,
		Quiet:          true,
	}

	results, exitCode := Run(context.Background(), urls, opts, 1)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	// The missing playlist 404s, a network failure.
	if exitCode != 4 {
		t.Fatalf("expected exit code 4, got %d", exitCode)
	}

	var failed *Result
	for i := range results {
		if results[i].Err != nil {
			failed = &results[i]
		}
	}
	if failed == nil {
		t.Fatal("expected one failed result")
	}
	if failed.Error == "" {
		t.Fatal("failed result must carry the error string")
	}
}

func TestRun_EmptyURLList(t *testing.T) {
	results, exitCode := Run(context.Background(), nil, downloader.Options{Quiet: true}, 4)
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
