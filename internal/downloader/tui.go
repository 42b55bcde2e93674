package downloader

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF006E"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#C3C8D8"))
	percentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FDBFF"))
	etaStyle     = lipgloss.NewStyle().Faint(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF006E"))
	logInfoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6ADC8"))
	logWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	logErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
)

// TUIRenderer is the interactive multi-task progress display. It implements
// ProgressRenderer; all mutation happens inside the bubbletea update loop, so
// callers may send updates from any goroutine.
type TUIRenderer struct {
	mu      sync.Mutex
	program *tea.Program
	model   *tuiModel
	done    chan struct{}
	seq     atomic.Uint64
	cancel  context.CancelFunc
}

type tuiTask struct {
	id       string
	label    string
	total    int64
	current  int64
	percent  float64
	started  time.Time
	finished time.Time
	bar      progressbar.Model
	spin     spinner.Model
	done     bool
}

type tuiModel struct {
	tasks    map[string]*tuiTask
	order    []string
	log      string
	width    int
	quitting bool
}

type tuiRegisterMsg struct {
	id    string
	label string
	total int64
	start time.Time
}

type tuiUpdateMsg struct {
	id      string
	current int64
	total   int64
}

type tuiFinishMsg struct{ id string }

type tuiLogMsg struct {
	level LogLevel
	text  string
}

type tuiStopMsg struct{}

func NewTUIRenderer() *TUIRenderer {
	return &TUIRenderer{
		model: &tuiModel{tasks: make(map[string]*tuiTask)},
		done:  make(chan struct{}),
	}
}

// Start launches the TUI program. Stop (or context cancellation) shuts it
// down and Wait blocks until the terminal is restored.
func (r *TUIRenderer) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, r.cancel = context.WithCancel(ctx)
	r.program = tea.NewProgram(r.model, tea.WithOutput(os.Stderr))

	go func() {
		_, _ = r.program.Run()
		close(r.done)
	}()
	go func() {
		<-ctx.Done()
		r.send(tuiStopMsg{})
	}()
}

func (r *TUIRenderer) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *TUIRenderer) Wait() {
	<-r.done
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func (r *TUIRenderer) Register(label string, total int64) string {
	id := fmt.Sprintf("task-%d", r.seq.Add(1))
	r.send(tuiRegisterMsg{id: id, label: label, total: total, start: time.Now()})
	return id
}

func (r *TUIRenderer) Update(id string, current, total int64) {
	r.send(tuiUpdateMsg{id: id, current: current, total: total})
}

func (r *TUIRenderer) Finish(id string) {
	r.send(tuiFinishMsg{id: id})
}

func (r *TUIRenderer) Log(level LogLevel, msg string) {
	r.send(tuiLogMsg{level: level, text: msg})
}

func (m *tuiModel) Init() tea.Cmd {
	return nil
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tuiStopMsg:
		m.quitting = true
		return m, tea.Quit
	case tuiRegisterMsg:
		if _, exists := m.tasks[msg.id]; exists {
			return m, nil
		}
		spin := spinner.New()
		spin.Spinner = spinner.MiniDot
		spin.Style = spinnerStyle
		bar := progressbar.New(
			progressbar.WithGradient("#FF006E", "#00F5FF"),
			progressbar.WithWidth(barWidth(m.width)),
			progressbar.WithoutPercentage(),
		)
		task := &tuiTask{
			id:      msg.id,
			label:   msg.label,
			total:   msg.total,
			started: msg.start,
			bar:     bar,
			spin:    spin,
		}
		m.tasks[msg.id] = task
		m.order = append(m.order, msg.id)
		cmds = append(cmds, task.bar.SetPercent(0), task.spin.Tick)
	case tuiUpdateMsg:
		if task, ok := m.tasks[msg.id]; ok {
			task.current = msg.current
			if msg.total > 0 {
				task.total = msg.total
			}
			if task.total > 0 {
				task.percent = math.Min(1, math.Max(0, float64(task.current)/float64(task.total)))
				cmds = append(cmds, task.bar.SetPercent(task.percent))
			}
		}
	case tuiFinishMsg:
		if task, ok := m.tasks[msg.id]; ok {
			task.percent = 1
			task.done = true
			task.finished = time.Now()
			cmds = append(cmds, task.bar.SetPercent(1))
		}
	case tuiLogMsg:
		style := logInfoStyle
		switch msg.level {
		case LogWarn:
			style = logWarnStyle
		case LogError:
			style = logErrStyle
		}
		m.log = style.Render(truncateText(msg.text, m.width))
	case progressbar.FrameMsg:
		for _, task := range m.tasks {
			model, cmd := task.bar.Update(msg)
			if updated, ok := model.(progressbar.Model); ok {
				task.bar = updated
			}
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	case spinner.TickMsg:
		for _, task := range m.tasks {
			updated, cmd := task.spin.Update(msg)
			task.spin = updated
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	}

	if len(cmds) > 0 {
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *tuiModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	if m.log != "" {
		b.WriteString(m.log)
		b.WriteString("\n")
	}

	b.WriteString(titleStyle.Render(" hlsget "))
	b.WriteString(" ")
	b.WriteString(etaStyle.Render(fmt.Sprintf("(%d tasks)", len(m.order))))
	b.WriteString("\n")

	if len(m.order) == 0 {
		b.WriteString(labelStyle.Render("Waiting for downloads to start..."))
		b.WriteString("\n")
		return b.String()
	}

	for _, id := range m.order {
		task, ok := m.tasks[id]
		if !ok {
			continue
		}

		var elapsed time.Duration
		if task.done {
			elapsed = task.finished.Sub(task.started)
		} else {
			elapsed = time.Since(task.started)
		}

		spinText := ""
		if !task.done {
			spinText = task.spin.View()
		}
		percentText := percentStyle.Render(fmt.Sprintf("%5.1f%%", task.percent*100))
		b.WriteString(fmt.Sprintf("%s %s %s\n", spinText, percentText, labelStyle.Render(task.label)))
		b.WriteString(task.bar.View())
		b.WriteString("\n")

		counts := fmt.Sprintf("%d / %d", task.current, task.total)
		if task.total <= 0 {
			counts = fmt.Sprintf("%d", task.current)
		}
		var timing string
		if task.done {
			timing = fmt.Sprintf("completed in %s", formatDurationShort(elapsed))
		} else {
			timing = fmt.Sprintf("elapsed %s · eta %s",
				formatDurationShort(elapsed),
				formatDurationShort(estimateETA(task.current, task.total, elapsed)))
		}
		b.WriteString(fmt.Sprintf("        %s\n", etaStyle.Render(counts+" · "+timing)))
	}

	return b.String()
}

func barWidth(total int) int {
	if total <= 0 {
		return 40
	}
	width := total - 20
	if width < 10 {
		width = 10
	}
	if width > 60 {
		width = 60
	}
	return width
}

func estimateETA(current, total int64, elapsed time.Duration) time.Duration {
	if current <= 0 || total <= 0 || current >= total {
		return 0
	}
	rate := float64(current) / elapsed.Seconds()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(total-current) / rate * float64(time.Second))
}

func formatDurationShort(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
