// Package remux hands a fully assembled transport stream to ffmpeg for a
// stream-copy remux into an MP4 container. ffmpeg is a black box here; the
// package only builds the invocation and reports its progress.
package remux

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Available reports whether an ffmpeg binary can be found.
func Available() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// ProbeDuration asks ffprobe for the media duration of path.
func ProbeDuration(path string) (time.Duration, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, fmt.Errorf("probing %s: %w", path, err)
	}
	var payload struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return 0, fmt.Errorf("parsing probe output: %w", err)
	}
	seconds, err := strconv.ParseFloat(payload.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing probe duration %q: %w", payload.Format.Duration, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Convert remuxes inPath into outPath with stream copy and faststart. When
// onProgress is non-nil it receives the converted position as ffmpeg reports
// it. Cancelling the context kills the ffmpeg process.
func Convert(ctx context.Context, inPath, outPath string, onProgress func(done time.Duration)) error {
	cmd := ffmpeg.Input(inPath).
		Output(outPath, ffmpeg.KwArgs{
			"c":           "copy",
			"movflags":    "+faststart",
			"progress":    "pipe:1",
			"nostats":     "",
			"hide_banner": "",
			"loglevel":    "warning",
		}).
		OverWriteOutput().
		Silent(true).
		Compile()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attaching ffmpeg pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	killed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-killed:
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "out_time_ms=") {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
		if err != nil {
			continue
		}
		if onProgress != nil {
			// out_time_ms is in microseconds despite the name.
			onProgress(time.Duration(ms) * time.Microsecond)
		}
	}

	waitErr := cmd.Wait()
	close(killed)
	if ctx.Err() != nil {
		return fmt.Errorf("conversion cancelled: %w", ctx.Err())
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return nil
}
