package downloader

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func parseLogLevel(value string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LogDebug
	case "warn", "warning":
		return LogWarn
	case "error":
		return LogError
	default:
		return LogInfo
	}
}

// ProgressRenderer receives task progress. The TUI, the plain stderr
// renderer, and the web job broadcaster all implement it.
type ProgressRenderer interface {
	Register(label string, total int64) string
	Update(id string, current, total int64)
	Finish(id string)
	Log(level LogLevel, msg string)
}

// Printer owns all human-facing output for one run.
type Printer struct {
	quiet           bool
	color           bool
	columns         int
	titleWidth      int
	logLevel        LogLevel
	progressEnabled bool
	renderer        ProgressRenderer
}

func newPrinter(opts Options) *Printer {
	columns := terminalColumns()
	if columns <= 0 {
		columns = 100
	}

	titleWidth := columns - 44
	if titleWidth < 20 {
		titleWidth = 20
	}
	if titleWidth > 60 {
		titleWidth = 60
	}

	return &Printer{
		quiet:           opts.Quiet,
		color:           supportsColor(),
		columns:         columns,
		titleWidth:      titleWidth,
		logLevel:        parseLogLevel(opts.LogLevel),
		progressEnabled: !opts.Quiet,
		renderer:        opts.Renderer,
	}
}

func (p *Printer) Prefix(index, total int, title string) string {
	if total <= 0 {
		total = 1
	}
	width := len(strconv.Itoa(total))
	idx := fmt.Sprintf("%*d/%d", width, index, total)
	return fmt.Sprintf("[%s] %-*s", idx, p.titleWidth, truncateText(title, p.titleWidth))
}

func (p *Printer) log(level LogLevel, format string, args ...any) {
	if level < p.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if p.renderer != nil {
		p.renderer.Log(level, msg)
		return
	}
	label := map[LogLevel]string{LogDebug: "debug", LogInfo: "info", LogWarn: "warn", LogError: "error"}[level]
	fmt.Fprintf(os.Stderr, "[%s] %s\n", label, msg)
}

func (p *Printer) Debugf(format string, args ...any) { p.log(LogDebug, format, args...) }
func (p *Printer) Infof(format string, args ...any)  { p.log(LogInfo, format, args...) }
func (p *Printer) Warnf(format string, args ...any)  { p.log(LogWarn, format, args...) }
func (p *Printer) Errorf(format string, args ...any) { p.log(LogError, format, args...) }

func (p *Printer) progressLine(prefix string, current, total int64, bytes int64, elapsed time.Duration) string {
	speed := ""
	if elapsed > 0 {
		speed = humanBytes(int64(float64(bytes)/elapsed.Seconds())) + "/s"
	}

	if total > 0 {
		percent := float64(current) * 100 / float64(total)
		return fmt.Sprintf("%s %6.2f%% %d/%d segs %s %s",
			prefix,
			percent,
			current,
			total,
			padLeft(humanBytes(bytes), 9),
			padLeft(speed, 10),
		)
	}

	return fmt.Sprintf("%s %d segs %s %s",
		prefix,
		current,
		padLeft(humanBytes(bytes), 9),
		padLeft(speed, 10),
	)
}

func (p *Printer) writeProgressLine(line string) {
	fmt.Fprintf(os.Stderr, "\r%s", line)
}

// ItemResult prints the one-line outcome for a finished session.
func (p *Printer) ItemResult(prefix string, result SessionResult, err error) {
	if err == nil && p.quiet {
		return
	}

	if result.hadProgress {
		p.clearLine()
	}

	statusText := "OK"
	statusColor := colorGreen
	detail := fmt.Sprintf("%s %s", padLeft(humanBytes(result.Report.Bytes), 9), result.OutputPath)
	if len(result.Report.Failed) > 0 {
		statusText = "PARTIAL"
		statusColor = colorYellow
		detail = fmt.Sprintf("%s (%d segments failed)", detail, len(result.Report.Failed))
	}

	if err != nil {
		statusText = "FAIL"
		statusColor = colorRed
		detail = err.Error()
	}

	status := p.colorize(statusText, statusColor)
	maxDetail := p.columns - len(prefix) - len(statusText) - 3
	if maxDetail < 0 {
		maxDetail = 0
	}
	detail = truncateText(detail, maxDetail)

	fmt.Fprintf(os.Stderr, "%s %s %s\n", prefix, status, detail)
}

func (p *Printer) Summary(total, ok, failed int, bytes int64) {
	if p.quiet {
		return
	}
	okLabel := p.colorize("OK", colorGreen)
	failLabel := p.colorize("FAIL", colorRed)
	fmt.Fprintf(os.Stderr, "Summary: %s %d | %s %d | TOTAL %d | SIZE %s\n",
		okLabel, ok, failLabel, failed, total, humanBytes(bytes))
}

func (p *Printer) colorize(text, color string) string {
	if !p.color || color == "" {
		return text
	}
	return color + text + colorReset
}

func (p *Printer) clearLine() {
	width := p.columns
	if width <= 0 {
		width = 100
	}
	fmt.Fprintf(os.Stderr, "\r%s\r", strings.Repeat(" ", width))
}

func padLeft(value string, width int) string {
	if len(value) >= width {
		return value
	}
	return strings.Repeat(" ", width-len(value)) + value
}

func truncateText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	if max <= 3 {
		return text[:max]
	}
	return text[:max-3] + "..."
}

func terminalColumns() int {
	if columns := os.Getenv("COLUMNS"); columns != "" {
		if val, err := strconv.Atoi(columns); err == nil && val > 0 {
			return val
		}
	}
	return 0
}

func supportsColor() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" || os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for n >= unit*div && exp < 3 {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	suffix := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f%s", value, suffix[exp])
}

const (
	colorReset  = "\x1b[0m"
	colorGreen  = "\x1b[32m"
	colorRed    = "\x1b[31m"
	colorYellow = "\x1b[33m"
)
