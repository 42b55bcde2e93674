package downloader

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/lvcoi/hlsget/internal/hls"
)

// chooseVariant resolves a master playlist to one variant: by the -variant
// flag when given, interactively on a TTY, and by highest bandwidth otherwise.
func chooseVariant(variants []hls.Variant, opts Options) (hls.Variant, error) {
	if len(variants) == 0 {
		return hls.Variant{}, wrapCategory(CategoryPlaylist, fmt.Errorf("master playlist has no variants"))
	}

	sorted := make([]hls.Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth > sorted[j].Bandwidth
	})

	switch selector := strings.TrimSpace(opts.Variant); {
	case selector == "":
		if !opts.Quiet && isTerminal(os.Stdin) {
			return promptVariant(variants)
		}
		return sorted[0], nil
	case strings.EqualFold(selector, "best"):
		return sorted[0], nil
	case strings.EqualFold(selector, "worst"):
		return sorted[len(sorted)-1], nil
	default:
		if match, ok := matchVariant(variants, selector); ok {
			return match, nil
		}
		return hls.Variant{}, wrapCategory(CategoryUnsupported,
			fmt.Errorf("no variant matches %q (have %s)", selector, describeVariants(variants)))
	}
}

// matchVariant accepts an exact bandwidth ("1280000"), a resolution
// ("1280x720"), or a height shorthand ("720p").
func matchVariant(variants []hls.Variant, selector string) (hls.Variant, bool) {
	if bw, err := strconv.Atoi(selector); err == nil {
		for _, v := range variants {
			if v.Bandwidth == bw {
				return v, true
			}
		}
	}
	for _, v := range variants {
		if strings.EqualFold(v.Resolution, selector) {
			return v, true
		}
	}
	if height, ok := strings.CutSuffix(strings.ToLower(selector), "p"); ok {
		for _, v := range variants {
			if strings.HasSuffix(v.Resolution, "x"+height) {
				return v, true
			}
		}
	}
	return hls.Variant{}, false
}

func promptVariant(variants []hls.Variant) (hls.Variant, error) {
	for i, v := range variants {
		fmt.Fprintf(os.Stderr, "  [%d] %s\n", i+1, variantLabel(v))
	}
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Fprintf(os.Stderr, "Select variant stream (1-%d): ", len(variants))
		line, err := reader.ReadString('\n')
		if err != nil {
			return hls.Variant{}, wrapCategory(CategoryCancelled, fmt.Errorf("variant selection aborted: %w", err))
		}
		n, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && n >= 1 && n <= len(variants) {
			return variants[n-1], nil
		}
		fmt.Fprintln(os.Stderr, "invalid selection, try again")
	}
}

func variantLabel(v hls.Variant) string {
	parts := []string{}
	if v.Resolution != "" {
		parts = append(parts, v.Resolution)
	}
	if v.Bandwidth > 0 {
		parts = append(parts, fmt.Sprintf("%dk", v.Bandwidth/1000))
	}
	if v.Codecs != "" {
		parts = append(parts, v.Codecs)
	}
	if len(parts) == 0 {
		return v.URL
	}
	return strings.Join(parts, " ")
}

func describeVariants(variants []hls.Variant) string {
	labels := make([]string, 0, len(variants))
	for _, v := range variants {
		labels = append(labels, variantLabel(v))
	}
	return strings.Join(labels, ", ")
}
