package hls

import (
	"bufio"
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Variant identifies one entry of a master playlist.
type Variant struct {
	URL        string
	Bandwidth  int
	Resolution string
	Codecs     string
}

// Segment is one media segment of a media playlist. Seq is assigned by
// position of appearance and is the sole ordering key downstream.
type Segment struct {
	Seq      int
	URL      string
	Duration float64
}

// Document is a parsed playlist. Exactly one of Segments or Variants is
// populated depending on the playlist shape.
type Document struct {
	Master        bool
	Live          bool
	MediaSequence int
	TargetDur     float64
	Segments      []Segment
	Variants      []Variant
	Encrypted     bool
	KeyMethod     string
}

// MalformedPlaylistError reports input that does not look like an HLS
// playlist at all, as opposed to a playlist with entries we cannot use.
type MalformedPlaylistError struct {
	Reason string
}

func (e *MalformedPlaylistError) Error() string {
	return fmt.Sprintf("malformed playlist: %s", e.Reason)
}

// Parse reads an m3u8 document. Relative segment and variant URIs are
// resolved against base when base is non-nil.
func Parse(data []byte, base *url.URL) (Document, error) {
	if !bytes.Contains(data, []byte("#EXTM3U")) {
		return Document{}, &MalformedPlaylistError{Reason: "missing #EXTM3U tag"}
	}

	var doc Document
	ended := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pendingVariant *Variant
	var lastDuration float64
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			doc.Master = true
			pendingVariant = &Variant{
				Bandwidth:  parseInt(attrs["BANDWIDTH"]),
				Resolution: attrs["RESOLUTION"],
				Codecs:     attrs["CODECS"],
			}
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			text := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(text, ','); i >= 0 {
				text = text[:i]
			}
			if d, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
				lastDuration = d
			}
			continue

		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			doc.MediaSequence = parseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"))
			continue

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if d, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64); err == nil {
				doc.TargetDur = d
			}
			continue

		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-KEY:"))
			method := strings.ToUpper(attrs["METHOD"])
			if method != "" && method != "NONE" {
				doc.Encrypted = true
				doc.KeyMethod = method
			}
			continue

		case line == "#EXT-X-ENDLIST":
			ended = true
			continue

		case strings.HasPrefix(line, "#"):
			continue
		}

		// URI line.
		resolved, err := resolveURL(base, line)
		if err != nil {
			return Document{}, &MalformedPlaylistError{Reason: fmt.Sprintf("bad URI %q: %v", line, err)}
		}

		if pendingVariant != nil {
			pendingVariant.URL = resolved
			doc.Variants = append(doc.Variants, *pendingVariant)
			pendingVariant = nil
			continue
		}

		doc.Segments = append(doc.Segments, Segment{
			Seq:      len(doc.Segments),
			URL:      resolved,
			Duration: lastDuration,
		})
		lastDuration = 0
	}
	if err := scanner.Err(); err != nil {
		return Document{}, err
	}

	if doc.Master {
		if len(doc.Variants) == 0 {
			return Document{}, &MalformedPlaylistError{Reason: "master playlist without variant URIs"}
		}
		return doc, nil
	}

	if len(doc.Segments) == 0 {
		return Document{}, &MalformedPlaylistError{Reason: "media playlist without segment URIs"}
	}
	doc.Live = !ended
	return doc, nil
}

func resolveURL(base *url.URL, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if base == nil || ref.IsAbs() {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}

func parseAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	for _, part := range splitAttributes(raw) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToUpper(kv[0]))
		value := strings.Trim(strings.TrimSpace(kv[1]), "\"")
		if key != "" {
			attrs[key] = value
		}
	}
	return attrs
}

// splitAttributes splits an attribute list on commas, honoring quoted values
// (CODECS="avc1.4d401e,mp4a.40.2" stays one attribute).
func splitAttributes(raw string) []string {
	var parts []string
	var b strings.Builder
	inQuotes := false
	for _, r := range raw {
		switch r {
		case '"':
			inQuotes = !inQuotes
			b.WriteRune(r)
		case ',':
			if inQuotes {
				b.WriteRune(r)
				continue
			}
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	return parts
}

func parseInt(value string) int {
	if value == "" {
		return 0
	}
	num, _ := strconv.Atoi(strings.TrimSpace(value))
	return num
}
