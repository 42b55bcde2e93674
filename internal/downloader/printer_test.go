package downloader

import "testing"

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		input string
		want  LogLevel
	}{
		{input: "debug", want: LogDebug},
		{input: "info", want: LogInfo},
		{input: "WARN", want: LogWarn},
		{input: "warning", want: LogWarn},
		{input: "error", want: LogError},
		{input: "", want: LogInfo},
		{input: "bogus", want: LogInfo},
	}
	for _, tc := range cases {
		if got := parseLogLevel(tc.input); got != tc.want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestHumanBytes(t *testing.T) {
	cases := []struct {
		input int64
		want  string
	}{
		{input: 0, want: "0B"},
		{input: 999, want: "999B"},
		{input: 2048, want: "2.0KB"},
		{input: 5 << 20, want: "5.0MB"},
		{input: 3 << 30, want: "3.0GB"},
	}
	for _, tc := range cases {
		if got := humanBytes(tc.input); got != tc.want {
			t.Fatalf("humanBytes(%d) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("expected unchanged text, got %q", got)
	}
	if got := truncateText("a very long title indeed", 10); got != "a very ..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := truncateText("abc", 2); got != "ab" {
		t.Fatalf("unexpected tiny truncation: %q", got)
	}
}
