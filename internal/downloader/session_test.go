package downloader

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
	"time"

	"github.com/lvcoi/hlsget/internal/hls"
)

func TestResolveOutputPath(t *testing.T) {
	cases := []struct {
		name     string
		template string
		want     string
	}{
		{name: "default template", template: "", want: "show.mp4"},
		{name: "placeholders", template: "out/{name}.{ext}", want: "out/show.mp4"},
		{name: "literal path", template: "video.mp4", want: "video.mp4"},
		{name: "missing extension", template: "video", want: "video.mp4"},
		{name: "trailing slash", template: "downloads/", want: filepath.Join("downloads", "show.mp4")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveOutputPath(tc.template, "show", "mp4"); got != tc.want {
				t.Fatalf("resolveOutputPath(%q) = %q, want %q", tc.template, got, tc.want)
			}
		})
	}
}

func TestResolveOutputPath_ExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	got := resolveOutputPath(dir, "show", "ts")
	if got != filepath.Join(dir, "show.ts") {
		t.Fatalf("expected file inside directory, got %q", got)
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{input: "normal-name", want: "normal-name"},
		{input: "a/b\\c", want: "a-b-c"},
		{input: `q:"u*o?te`, want: "q--u-o-te"},
		{input: "   ", want: "stream"},
	}
	for _, tc := range cases {
		if got := sanitize(tc.input); got != tc.want {
			t.Fatalf("sanitize(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestNextAvailablePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "show.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	got, err := nextAvailablePath(path)
	if err != nil {
		t.Fatalf("nextAvailablePath: %v", err)
	}
	if got != filepath.Join(dir, "show (1).mp4") {
		t.Fatalf("expected show (1).mp4, got %q", got)
	}
}

func TestHandleExistingPath_Overwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "show.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	got, skip, err := handleExistingPath(path, Options{Overwrite: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if skip {
		t.Fatal("overwrite must not skip")
	}
	if got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}
}

func TestHandleExistingPath_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.mp4")
	got, skip, err := handleExistingPath(path, Options{})
	if err != nil || skip {
		t.Fatalf("missing file must pass through, got skip=%v err=%v", skip, err)
	}
	if got != path {
		t.Fatalf("expected %q, got %q", path, got)
	}
}

func TestFetchPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:6.0,\nseg0.ts\n#EXT-X-ENDLIST\n")
	}))
	defer server.Close()

	doc, err := fetchPlaylist(context.Background(), server.Client(), server.URL+"/vod/index.m3u8")
	if err != nil {
		t.Fatalf("fetchPlaylist: %v", err)
	}
	if len(doc.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(doc.Segments))
	}
	if want := server.URL + "/vod/seg0.ts"; doc.Segments[0].URL != want {
		t.Fatalf("segment URI not resolved against playlist URL: %q", doc.Segments[0].URL)
	}
}

func TestFetchPlaylist_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/404":
			http.NotFound(w, r)
		default:
			fmt.Fprint(w, "not a playlist")
		}
	}))
	defer server.Close()

	_, err := fetchPlaylist(context.Background(), server.Client(), server.URL+"/404")
	if CategoryOf(err) != CategoryNetwork {
		t.Fatalf("expected network category for 404, got %v (%v)", CategoryOf(err), err)
	}

	_, err = fetchPlaylist(context.Background(), server.Client(), server.URL+"/garbage")
	if CategoryOf(err) != CategoryPlaylist {
		t.Fatalf("expected playlist category for garbage, got %v (%v)", CategoryOf(err), err)
	}
}

func TestDownloadMediaPlaylist(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seq, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/seg/"))
		fmt.Fprintf(w, "segment-%d;", seq)
	}))
	defer server.Close()

	doc := buildMediaDoc(t, server.URL, 4)
	outPath := filepath.Join(t.TempDir(), "out.ts")

	report, err := DownloadMediaPlaylist(context.Background(), doc, outPath, Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("DownloadMediaPlaylist: %v", err)
	}
	if report.Written != 4 {
		t.Fatalf("expected 4 written, got %d", report.Written)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if got := string(data); got != expectedPayload(0, 1, 2, 3) {
		t.Fatalf("unexpected output: %q", got)
	}
}

// buildMediaDoc parses a media playlist pointing n segments at the test
// server.
func buildMediaDoc(t *testing.T, baseURL string, n int) hls.Document {
	t.Helper()
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "#EXTINF:6.0,\n%s/seg/%d\n", baseURL, i)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	doc, err := hls.Parse([]byte(b.String()), nil)
	if err != nil {
		t.Fatalf("parsing test playlist: %v", err)
	}
	return doc
}

func TestDownloadMediaPlaylist_RejectsMaster(t *testing.T) {
	doc, err := hls.Parse([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=100\nlow.m3u8\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = DownloadMediaPlaylist(context.Background(), doc, filepath.Join(t.TempDir(), "out.ts"), Options{})
	if err == nil {
		t.Fatal("expected error for master playlist")
	}
	if CategoryOf(err) != CategoryPlaylist {
		t.Fatalf("expected playlist category, got %v", CategoryOf(err))
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seq, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/seg/")); err == nil {
			fmt.Fprintf(w, "segment-%d;", seq)
			return
		}
		var b strings.Builder
		b.WriteString("#EXTM3U\n")
		for i := 0; i < 3; i++ {
			fmt.Fprintf(&b, "#EXTINF:6.0,\n%s/seg/%d\n", server.URL, i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		fmt.Fprint(w, b.String())
	}))
	defer server.Close()

	dir := t.TempDir()
	var got SessionResult
	opts := Options{
		OutputTemplate: filepath.Join(dir, "{name}.{ext}"),
		NoConvert:      true,
		Quiet:          true,
		OnResult: func(result SessionResult, err error) {
			got = result
		},
	}

	if err := Process(context.Background(), server.URL+"/stream.m3u8", opts); err != nil {
		t.Fatalf("Process: %v", err)
	}

	outPath := filepath.Join(dir, "stream.ts")
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != expectedPayload(0, 1, 2) {
		t.Fatalf("unexpected output: %q", data)
	}
	if got.OutputPath != outPath {
		t.Fatalf("OnResult output path %q, want %q", got.OutputPath, outPath)
	}
	if got.Report.Written != 3 {
		t.Fatalf("OnResult written %d, want 3", got.Report.Written)
	}
}

func TestProcess_EncryptedRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\"\n#EXTINF:6.0,\nseg0.ts\n#EXT-X-ENDLIST\n")
	}))
	defer server.Close()

	err := Process(context.Background(), server.URL+"/enc.m3u8", Options{Quiet: true})
	if err == nil {
		t.Fatal("expected error for encrypted playlist")
	}
	if CategoryOf(err) != CategoryUnsupported {
		t.Fatalf("expected unsupported category, got %v (%v)", CategoryOf(err), err)
	}
	if ExitCode(err) != 7 {
		t.Fatalf("expected exit code 7, got %d", ExitCode(err))
	}
}

func TestRecordLive_EndToEnd(t *testing.T) {
	server := livePlaylistServer(t,
		[][]int{{0, 1}, {2, 3}},
		[]int{0, 2},
	)

	outPath := filepath.Join(t.TempDir(), "capture.ts")
	report, err := RecordLive(context.Background(), server.URL+"/live.m3u8",
		time.Minute, time.Millisecond, outPath, Options{Concurrency: 2})
	if err != nil {
		t.Fatalf("RecordLive: %v", err)
	}
	if report.Written != 4 {
		t.Fatalf("expected 4 written, got %d", report.Written)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if string(data) != expectedPayload(0, 1, 2, 3) {
		t.Fatalf("unexpected recording: %q", data)
	}
}
