// Package cli renders medprobe reports for the terminal and for machines.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/medprobe/internal/e2e"
	"github.com/studiowebux/medprobe/internal/executor"
	"github.com/studiowebux/medprobe/internal/history"
	"github.com/studiowebux/medprobe/internal/perf"
	"github.com/studiowebux/medprobe/internal/stresstest"
)

// Format is an output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json and yaml. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or yaml)", s)
	}
}

var (
	styleHeading = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	styleSubtle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleGreen   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleYellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleRed     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Printer writes reports to w in one format
type Printer struct {
	w      io.Writer
	format Format
	color  bool
}

// NewPrinter returns a printer. Colors are enabled when w is a terminal.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format, color: IsTerminal(w)}
}

// SetColor forces colors on or off
func (p *Printer) SetColor(on bool) {
	p.color = on
}

// IsTerminal reports whether w is a terminal
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// structured writes v as JSON or YAML. It returns false for text output.
func (p *Printer) structured(v any) (bool, error) {
	switch p.format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(p.w, string(data))
		return true, err
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		_, err = p.w.Write(data)
		return true, err
	}
	return false, nil
}

func (p *Printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) statusStyle(status int) lipgloss.Style {
	switch {
	case executor.IsSuccessStatus(status):
		return styleGreen
	case executor.IsClientErrorStatus(status), executor.IsServerErrorStatus(status):
		return styleRed
	default:
		return styleYellow
	}
}

func (p *Printer) outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case e2e.StagePassed, stresstest.StatusCompleted:
		return styleGreen
	case e2e.StageSkipped, stresstest.StatusCancelled, stresstest.StatusRunning:
		return styleYellow
	default:
		return styleRed
	}
}

// body pretty-prints a "<status> <json>" outcome string and highlights it
// on a terminal. Anything else is returned as is.
func (p *Printer) body(s string) string {
	status, rest, found := strings.Cut(s, " ")
	if _, err := strconv.Atoi(status); !found || err != nil {
		rest = s
		status = ""
	}
	if !json.Valid([]byte(rest)) {
		return s
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(rest), "", "  "); err != nil {
		return s
	}
	pretty := buf.String()
	if p.color {
		var out strings.Builder
		if err := quick.Highlight(&out, pretty, "json", "terminal256", "monokai"); err == nil {
			pretty = out.String()
		}
	}
	if status != "" {
		return status + " " + pretty
	}
	return pretty
}

// E2EReport prints the result of an end-to-end run
func (p *Printer) E2EReport(r *e2e.Report) error {
	if ok, err := p.structured(r); ok {
		return err
	}

	fmt.Fprintf(p.w, "%s %s\n", p.style(styleHeading, "End-to-end run"), p.style(styleSubtle, r.RunID))
	fmt.Fprintf(p.w, "Target: %s\n\n", r.BaseURL)
	p.stageTable(r.Results)

	passed, failed, skipped := r.Counts()
	fmt.Fprintf(p.w, "\n%s  %d passed, %d failed, %d skipped in %s\n",
		p.style(p.outcomeStyle(r.Status()), strings.ToUpper(r.Status())),
		passed, failed, skipped, executor.FormatDuration(r.Duration))

	if f := r.FirstFailure(); f != nil {
		fmt.Fprintf(p.w, "\n%s %s\n", p.style(styleRed, "Failed stage:"), f.Name)
		fmt.Fprintf(p.w, "%s\n", f.Message)
		if f.Body != "" {
			fmt.Fprintf(p.w, "\n%s\n", p.body(f.Body))
		}
	}
	return nil
}

func (p *Printer) stageTable(results []e2e.StageResult) {
	fmt.Fprintf(p.w, "%3s  %-30s %-8s %6s  %s\n", "#", "STAGE", "RESULT", "STATUS", "DURATION")
	for _, res := range results {
		status := "-"
		if res.Status != 0 {
			status = strconv.Itoa(res.Status)
		}
		duration := "-"
		if res.Outcome != e2e.StageSkipped {
			duration = executor.FormatDuration(res.Duration)
		}
		// pad before styling so escape codes do not break alignment
		fmt.Fprintf(p.w, "%3d  %-30s %s %s  %s\n",
			res.Position, res.Name,
			p.style(p.outcomeStyle(res.Outcome), fmt.Sprintf("%-8s", res.Outcome)),
			p.style(p.statusStyle(res.Status), fmt.Sprintf("%6s", status)),
			duration)
	}
}

// StressReport is one finished stress run with its diagnostics
type StressReport struct {
	Run *stresstest.Run `json:"run" yaml:"run"`
	// Config is the stored config of the run, when known
	Config   *stresstest.Config   `json:"config,omitempty" yaml:"config,omitempty"`
	Setup    []stresstest.Timing  `json:"setup,omitempty" yaml:"setup,omitempty"`
	Failures []stresstest.Failure `json:"failures,omitempty" yaml:"failures,omitempty"`
	// FailureCount may exceed len(Failures), which is capped
	FailureCount int `json:"failure_count" yaml:"failure_count"`
}

// NewStressReport collects the report of a finished executor
func NewStressReport(exec *stresstest.Executor) StressReport {
	stats := exec.GetStats()
	report := StressReport{
		Run:          exec.GetRun(),
		Failures:     stats.Failures,
		FailureCount: stats.FailureCount(),
	}
	if timer, ok := exec.Workload().(stresstest.SetupTimer); ok {
		report.Setup = timer.SetupTimings()
	}
	return report
}

// Stress prints finished stress runs
func (p *Printer) Stress(reports []StressReport) error {
	if ok, err := p.structured(reports); ok {
		return err
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(p.w)
		}
		p.stressReport(r)
	}
	return nil
}

func (p *Printer) stressReport(r StressReport) {
	run := r.Run
	fmt.Fprintf(p.w, "%s %s  %s\n",
		p.style(styleHeading, "Stress "+run.Workload),
		p.style(styleSubtle, run.BaseURL),
		p.style(p.outcomeStyle(run.Status), run.Status))

	if c := r.Config; c != nil {
		fmt.Fprintf(p.w, "Config:     %s (concurrency %d, %d requests, timeout %s)\n",
			c.Name, c.ConcurrentConns, c.TotalRequests, c.GetRequestTimeout())
	}

	if len(r.Setup) > 0 {
		fmt.Fprintln(p.w, p.style(styleSubtle, "Setup"))
		for _, t := range r.Setup {
			fmt.Fprintf(p.w, "  %-22s %s\n", t.Step, executor.FormatDuration(t.Duration))
		}
	}

	fmt.Fprintf(p.w, "Requests:   %d/%d completed, %s success, %s network errors, %s unexpected status\n",
		run.TotalRequestsCompleted, run.TotalRequestsSent,
		p.style(styleGreen, strconv.Itoa(run.TotalSuccess)),
		p.style(styleRed, strconv.Itoa(run.TotalErrors)),
		p.style(styleYellow, strconv.Itoa(run.TotalValidationErrors)))
	if run.TotalSuccess > 0 {
		fmt.Fprintf(p.w, "Latency:    mean %.1fms  stddev %.1fms  min %dms  max %dms\n",
			run.AvgDurationMs, run.StdDevDurationMs, run.MinDurationMs, run.MaxDurationMs)
		fmt.Fprintf(p.w, "            p50 %dms  p95 %dms  p99 %dms\n",
			run.P50DurationMs, run.P95DurationMs, run.P99DurationMs)
	}
	fmt.Fprintf(p.w, "Throughput: %.2f req/s\n", run.ThroughputRPS)
	if run.IsCompleted() && run.CompletedAt != nil {
		fmt.Fprintf(p.w, "Wall time:  %s\n", executor.FormatDuration(run.CompletedAt.Sub(run.StartedAt)))
	} else if run.IsRunning() {
		fmt.Fprintf(p.w, "Wall time:  %s (still running)\n", executor.FormatDuration(time.Since(run.StartedAt)))
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(p.w, "\n%s (first %d of %d)\n", p.style(styleRed, "Failures"), len(r.Failures), r.FailureCount)
		for _, f := range r.Failures {
			fmt.Fprintf(p.w, "  #%-6d %s %8s  %s\n",
				f.Sequence,
				p.style(p.statusStyle(f.Status), fmt.Sprintf("%3d", f.Status)),
				executor.FormatDuration(f.Duration),
				p.failureMessage(f))
		}
	}
}

// failureMessage explains network failures; live samples keep the
// transport error, stored ones only its text
func (p *Printer) failureMessage(f stresstest.Failure) string {
	if f.Err != nil {
		return CategorizeError(f.Err)
	}
	sample := stresstest.Sample{Status: f.Status}
	if sample.IsNetworkError() {
		return CategorizeMessage(f.Message)
	}
	return f.Message
}

// StressRuns prints stored stress runs
func (p *Printer) StressRuns(runs []*stresstest.Run) error {
	if ok, err := p.structured(runs); ok {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(p.w, "No stress runs recorded")
		return nil
	}
	fmt.Fprintf(p.w, "%5s  %-19s  %-13s %-10s %9s %9s %9s %8s %10s\n",
		"ID", "STARTED", "WORKLOAD", "STATUS", "DONE", "SUCCESS", "ERRORS", "P95", "RPS")
	for _, run := range runs {
		fmt.Fprintf(p.w, "%5d  %-19s  %-13s %s %9d %9d %9d %6dms %10.2f\n",
			run.ID, run.StartedAt.Local().Format(time.DateTime), run.Workload,
			p.style(p.outcomeStyle(run.Status), fmt.Sprintf("%-10s", run.Status)),
			run.TotalRequestsCompleted, run.TotalSuccess,
			run.TotalErrors+run.TotalValidationErrors, run.P95DurationMs, run.ThroughputRPS)
	}
	return nil
}

// StressRun prints one stored stress run with its config and failed samples
func (p *Printer) StressRun(report StressReport) error {
	if ok, err := p.structured(report); ok {
		return err
	}
	p.stressReport(report)
	return nil
}

// Perf prints the perf suite results
func (p *Printer) Perf(results []perf.Result) error {
	if ok, err := p.structured(results); ok {
		return err
	}
	fmt.Fprintln(p.w, p.style(styleHeading, "Create/update latency"))
	fmt.Fprintf(p.w, "%-14s %8s %12s %12s %10s\n", "CASE", "WORKERS", "CREATE AVG", "UPDATE AVG", "ELAPSED")
	for _, r := range results {
		fmt.Fprintf(p.w, "%-14s %8d %12s %12s %10s\n",
			r.Name, r.Workers,
			executor.FormatDuration(r.CreateAvg),
			executor.FormatDuration(r.UpdateAvg),
			executor.FormatDuration(r.Elapsed))
	}
	return nil
}

// E2ERuns prints stored end-to-end runs
func (p *Printer) E2ERuns(runs []history.Run) error {
	if ok, err := p.structured(runs); ok {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(p.w, "No end-to-end runs recorded")
		return nil
	}
	fmt.Fprintf(p.w, "%5s  %-19s  %-10s %7s  %-10s  %s\n", "ID", "STARTED", "STATUS", "STAGES", "DURATION", "TARGET")
	for _, run := range runs {
		fmt.Fprintf(p.w, "%5d  %-19s  %s %3d/%-3d  %-10s  %s\n",
			run.ID, run.StartedAt.Local().Format(time.DateTime),
			p.style(p.outcomeStyle(run.Status), fmt.Sprintf("%-10s", run.Status)),
			run.StagesPassed, run.StagesTotal,
			executor.FormatDuration(run.Duration), run.BaseURL)
	}
	return nil
}

// Runs prints both kinds of stored runs. A nil slice skips that kind.
func (p *Printer) Runs(e2eRuns []history.Run, stressRuns []*stresstest.Run) error {
	if p.format != FormatText {
		all := struct {
			E2E    []history.Run     `json:"e2e,omitempty" yaml:"e2e,omitempty"`
			Stress []*stresstest.Run `json:"stress,omitempty" yaml:"stress,omitempty"`
		}{e2eRuns, stressRuns}
		_, err := p.structured(all)
		return err
	}
	if e2eRuns != nil {
		if err := p.E2ERuns(e2eRuns); err != nil {
			return err
		}
	}
	if e2eRuns != nil && stressRuns != nil {
		fmt.Fprintln(p.w)
	}
	if stressRuns != nil {
		return p.StressRuns(stressRuns)
	}
	return nil
}

// E2ERun prints one stored end-to-end run with its steps
func (p *Printer) E2ERun(run *history.Run) error {
	if ok, err := p.structured(run); ok {
		return err
	}
	fmt.Fprintf(p.w, "%s %s  %s\n", p.style(styleHeading, "End-to-end run"), p.style(styleSubtle, run.RunID),
		p.style(p.outcomeStyle(run.Status), run.Status))
	fmt.Fprintf(p.w, "Target: %s\nStarted: %s\n\n", run.BaseURL, run.StartedAt.Local().Format(time.DateTime))
	p.stageTable(run.Steps)
	for _, step := range run.Steps {
		if step.Outcome == e2e.StageFailed {
			fmt.Fprintf(p.w, "\n%s %s\n%s\n", p.style(styleRed, "Failed stage:"), step.Name, step.Message)
			if step.Body != "" {
				fmt.Fprintf(p.w, "\n%s\n", p.body(step.Body))
			}
		}
	}
	return nil
}
