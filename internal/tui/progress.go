// Package tui shows a live view of a running stress test.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/medprobe/internal/stresstest"
)

const refreshInterval = 200 * time.Millisecond

var (
	colorCyan         = lipgloss.Color("6")
	styleTitle        = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleTitleFocused = lipgloss.NewStyle().Bold(true)
	styleSubtle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type tickMsg time.Time

type doneMsg struct{}

// StressProgress is a bubbletea model polling an executor until its run
// has been finalized
type StressProgress struct {
	exec     *stresstest.Executor
	cancel   context.CancelFunc
	bar      progress.Model
	width    int
	stopping bool
	finished bool
}

// NewStressProgress returns the model. cancel stops the run when the
// operator presses q or esc.
func NewStressProgress(exec *stresstest.Executor, cancel context.CancelFunc) StressProgress {
	return StressProgress{
		exec:   exec,
		cancel: cancel,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:  80,
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitDone(exec *stresstest.Executor) tea.Cmd {
	return func() tea.Msg {
		<-exec.Done()
		return doneMsg{}
	}
}

func (m StressProgress) Init() tea.Cmd {
	return tea.Batch(tick(), waitDone(m.exec))
}

func (m StressProgress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if !m.stopping && m.cancel != nil {
				m.stopping = true
				m.cancel()
			}
		}
		return m, nil

	case tickMsg:
		if m.finished {
			return m, nil
		}
		return m, tick()

	case doneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m StressProgress) View() string {
	if m.finished {
		return ""
	}

	modalWidth := m.width - 10
	if modalWidth > 90 {
		modalWidth = 90
	}
	if modalWidth < 40 {
		modalWidth = 40
	}

	stats := m.exec.GetStats()
	cfg := m.exec.Config()

	var content strings.Builder

	title := "Stress Test - Running"
	if m.stopping {
		title = "Stress Test - Stopping"
	}
	content.WriteString(styleTitle.Render(title) + "\n\n")

	content.WriteString(styleTitleFocused.Render("Workload") + "\n")
	content.WriteString(fmt.Sprintf("%s against %s\n", cfg.Workload, cfg.BaseURL))
	content.WriteString(styleSubtle.Render(fmt.Sprintf("%d workers", cfg.ConcurrentConns)) + "\n\n")

	pct := stats.Progress()
	content.WriteString(styleTitleFocused.Render("Progress") + "\n")
	content.WriteString(fmt.Sprintf("%d/%d requests (%.1f%%)\n", stats.CompletedRequests, stats.TotalRequests, pct))
	content.WriteString(m.bar.ViewAs(pct/100) + "\n")

	content.WriteString(fmt.Sprintf("Elapsed: %s\n", formatDuration(stats.Elapsed)))
	content.WriteString(fmt.Sprintf("Active Workers: %d\n", stats.ActiveWorkers))

	if m.stopping {
		stoppingMsg := fmt.Sprintf("Waiting for %d active workers to finish...", stats.ActiveWorkers)
		content.WriteString(styleTitleFocused.Render(stoppingMsg) + "\n")
	}
	content.WriteString("\n")

	content.WriteString(styleTitleFocused.Render("Statistics") + "\n")

	leftCol := []string{
		fmt.Sprintf("Success:    %d", stats.SuccessCount),
		fmt.Sprintf("Net Errors: %d", stats.ErrorCount),
		fmt.Sprintf("Bad Status: %d", stats.ValidationErrorCount),
		fmt.Sprintf("Avg:        %.0fms", stats.AvgDurationMs()),
		fmt.Sprintf("Min:        %dms", stats.Min()),
	}
	rightCol := []string{
		fmt.Sprintf("Max:        %dms", stats.Max()),
		fmt.Sprintf("P50:        %dms", stats.P50()),
		fmt.Sprintf("P95:        %dms", stats.P95()),
		fmt.Sprintf("P99:        %dms", stats.P99()),
		fmt.Sprintf("Std Dev:    %.1fms", stats.StdDevDurationMs()),
	}
	for i := range leftCol {
		content.WriteString(fmt.Sprintf("%-25s%s\n", leftCol[i], rightCol[i]))
	}

	content.WriteString(fmt.Sprintf("\nRequests/sec: %.2f\n", stats.Throughput()))

	content.WriteString("\n")
	footer := "ESC/q: Cancel test"
	if m.stopping {
		footer = "Stopping test gracefully... please wait"
	}
	content.WriteString(styleSubtle.Render(footer))

	modalStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorCyan).
		Padding(1, 2).
		Width(modalWidth)

	return modalStyle.Render(content.String())
}

// RunStressProgress shows the live view on out until the run is finalized.
// Someone else must call Wait on exec.
func RunStressProgress(exec *stresstest.Executor, cancel context.CancelFunc, out io.Writer) error {
	p := tea.NewProgram(NewStressProgress(exec, cancel), tea.WithOutput(out))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}
