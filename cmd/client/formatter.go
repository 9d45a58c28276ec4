package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/netpanel/linkpanel/internal/gauge"
	"github.com/netpanel/linkpanel/internal/session"
	api "github.com/netpanel/linkpanel/pkg/client"
	"github.com/netpanel/linkpanel/pkg/diagnostic"
	"github.com/netpanel/linkpanel/pkg/types"
)

// OutputFormatter renders session progress and results. It doubles as the
// session Observer so the controller can drive it directly.
type OutputFormatter interface {
	session.Observer
	FormatSummary(summary *session.Summary, interp *diagnostic.Interpretation)
	FormatStats(resp *api.StatsResponse)
	FormatHistory(runs []api.RunRecord)
	FormatError(err error)
}

func createFormatter(config *Config, unit types.Unit) OutputFormatter {
	if config.JSON {
		return &JSONFormatter{writer: os.Stdout}
	}
	if config.Plain {
		return NewPlainFormatter(os.Stdout, unit, config.Verbose, config.Quiet)
	}
	return NewInteractiveFormatter(os.Stdout, unit, config.Verbose, config.Quiet, config.NoColor)
}

// --- JSON ---

type JSONFormatter struct {
	writer io.Writer
}

func (f *JSONFormatter) PhaseChanged(session.Phase)  {}
func (f *JSONFormatter) LogLine(string)              {}
func (f *JSONFormatter) GaugeUpdated(gauge.Snapshot) {}

func (f *JSONFormatter) FormatSummary(summary *session.Summary, interp *diagnostic.Interpretation) {
	out := struct {
		CID        string                     `json:"cid"`
		Phase      string                     `json:"phase"`
		Avg        float64                    `json:"avg"`
		Max        float64                    `json:"max"`
		Samples    int                        `json:"samples"`
		Error      string                     `json:"error,omitempty"`
		Diagnostic *diagnostic.Interpretation `json:"diagnostic,omitempty"`
	}{
		CID:        summary.CID,
		Phase:      string(summary.Phase),
		Avg:        summary.Avg,
		Max:        summary.Max,
		Samples:    summary.Samples,
		Diagnostic: interp,
	}
	if summary.Err != nil {
		out.Error = summary.Err.Error()
	}
	json.NewEncoder(f.writer).Encode(out)
}

func (f *JSONFormatter) FormatStats(resp *api.StatsResponse) {
	json.NewEncoder(f.writer).Encode(resp)
}

func (f *JSONFormatter) FormatHistory(runs []api.RunRecord) {
	json.NewEncoder(f.writer).Encode(runs)
}

func (f *JSONFormatter) FormatError(err error) {
	fmt.Fprintf(os.Stderr, "linkpanel client: error: %v\n", err)
}

// --- Plain ---

type PlainFormatter struct {
	writer  io.Writer
	unit    types.Unit
	verbose bool
	quiet   bool
}

func NewPlainFormatter(w io.Writer, unit types.Unit, verbose, quiet bool) *PlainFormatter {
	return &PlainFormatter{writer: w, unit: unit, verbose: verbose, quiet: quiet}
}

func (f *PlainFormatter) PhaseChanged(phase session.Phase) {
	if f.quiet {
		return
	}
	fmt.Fprintf(f.writer, "phase=%s\n", phase)
}

func (f *PlainFormatter) LogLine(line string) {
	if !f.verbose || f.quiet {
		return
	}
	fmt.Fprintf(f.writer, "log=%s\n", line)
}

func (f *PlainFormatter) GaugeUpdated(snap gauge.Snapshot) {
	if f.quiet || snap.State != gauge.StateLive {
		return
	}
	fmt.Fprintf(f.writer, "sample=%.2f\n", snap.Readout)
}

func (f *PlainFormatter) FormatSummary(summary *session.Summary, interp *diagnostic.Interpretation) {
	fmt.Fprintf(f.writer, "cid=%s\n", summary.CID)
	fmt.Fprintf(f.writer, "phase=%s\n", summary.Phase)
	fmt.Fprintf(f.writer, "avg=%.2f\n", summary.Avg)
	fmt.Fprintf(f.writer, "max=%.2f\n", summary.Max)
	fmt.Fprintf(f.writer, "samples=%d\n", summary.Samples)
	fmt.Fprintf(f.writer, "units=%s\n", f.unit)
	if summary.Err != nil {
		fmt.Fprintf(f.writer, "error=%v\n", summary.Err)
	}
	if interp != nil {
		fmt.Fprintf(f.writer, "grade=%s\n", interp.Grade)
		fmt.Fprintf(f.writer, "throughput_rating=%s\n", interp.ThroughputRating)
		fmt.Fprintf(f.writer, "utilization_rating=%s\n", interp.UtilizationRating)
		fmt.Fprintf(f.writer, "cleanliness_rating=%s\n", interp.CleanlinessRating)
		if len(interp.Concerns) > 0 {
			fmt.Fprintf(f.writer, "concerns=%s\n", strings.Join(interp.Concerns, ","))
		}
	}
}

func (f *PlainFormatter) FormatStats(resp *api.StatsResponse) {
	fmt.Fprintf(f.writer, "iface=%s link=%s errors=%d drops=%d crc=%d verdict=%s\n",
		resp.Iface, resp.Summary.Link, resp.Summary.Errors, resp.Summary.Drops,
		resp.Summary.CRC, resp.Summary.Verdict)
}

func (f *PlainFormatter) FormatHistory(runs []api.RunRecord) {
	for _, run := range runs {
		fmt.Fprintf(f.writer, "%s  %-9s  %s %s x%d  avg=%.2f max=%.2f %s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Status,
			run.Target, run.Protocol, run.Streams, run.Avg, run.Max, run.Unit)
	}
}

func (f *PlainFormatter) FormatError(err error) {
	fmt.Fprintf(os.Stderr, "linkpanel client: error: %v\n", err)
}

// --- Interactive ---

// InteractiveFormatter draws the gauge as an in-place bar on a terminal. It
// satisfies gauge.Renderer as well, so it can be handed to the presenter
// directly and animate the idle sweep between samples.
type InteractiveFormatter struct {
	writer   io.Writer
	unit     types.Unit
	verbose  bool
	quiet    bool
	noColor  bool
	barDrawn bool
}

func NewInteractiveFormatter(w io.Writer, unit types.Unit, verbose, quiet, noColor bool) *InteractiveFormatter {
	return &InteractiveFormatter{writer: w, unit: unit, verbose: verbose, quiet: quiet, noColor: noColor}
}

func (f *InteractiveFormatter) PhaseChanged(phase session.Phase) {
	if f.quiet {
		return
	}
	switch phase {
	case session.PhaseConnecting:
		f.printLine("Connecting...")
	case session.PhaseWaiting:
		f.printLine("Waiting for test to start...")
	case session.PhaseRunning:
		f.printLine("Running")
	case session.PhaseBusy:
		f.printLine("Server is busy; another test is in progress.")
	}
}

func (f *InteractiveFormatter) LogLine(line string) {
	if !f.verbose || f.quiet {
		return
	}
	f.printLine("  " + line)
}

func (f *InteractiveFormatter) GaugeUpdated(snap gauge.Snapshot) {
	f.Render(snap)
}

// Render draws one gauge frame over the previous one.
func (f *InteractiveFormatter) Render(snap gauge.Snapshot) {
	if f.quiet {
		return
	}
	width := f.barWidth()
	filled := 0
	if snap.Max > 0 {
		filled = int(snap.Value / snap.Max * float64(width))
	}
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	if !f.noColor {
		bar = f.colorize(bar, snap)
	}

	readout := fmt.Sprintf("%8.2f %s", snap.Readout, f.unit.Label())
	if snap.State == gauge.StateSweeping {
		readout = fmt.Sprintf("%8s %s", "--", f.unit.Label())
	}
	fmt.Fprintf(f.writer, "\r[%s] %s  (scale %.0f)\033[K", bar, readout, snap.Max)
	f.barDrawn = true
}

func (f *InteractiveFormatter) colorize(bar string, snap gauge.Snapshot) string {
	if snap.State == gauge.StateSweeping {
		return fmt.Sprintf("\033[90m%s\033[0m", bar)
	}
	ratio := 0.0
	if snap.Max > 0 {
		ratio = snap.Value / snap.Max
	}
	switch {
	case ratio < 0.3:
		return fmt.Sprintf("\033[33m%s\033[0m", bar)
	case ratio < 0.8:
		return fmt.Sprintf("\033[36m%s\033[0m", bar)
	default:
		return fmt.Sprintf("\033[32m%s\033[0m", bar)
	}
}

func (f *InteractiveFormatter) FormatSummary(summary *session.Summary, interp *diagnostic.Interpretation) {
	f.endBar()
	label := f.unit.Label()
	fmt.Fprintln(f.writer, "\nResult:")
	if f.noColor {
		fmt.Fprintf(f.writer, "  Average: %.2f %s\n", summary.Avg, label)
		fmt.Fprintf(f.writer, "  Peak:    %.2f %s\n", summary.Max, label)
	} else {
		fmt.Fprintf(f.writer, "  \033[36mAverage:\033[0m %.2f %s\n", summary.Avg, label)
		fmt.Fprintf(f.writer, "  \033[36mPeak:\033[0m    %.2f %s\n", summary.Max, label)
	}
	fmt.Fprintf(f.writer, "  Samples: %d\n", summary.Samples)
	if summary.Err != nil {
		fmt.Fprintf(f.writer, "  Error:   %v\n", summary.Err)
	}
	if interp != nil {
		fmt.Fprintf(f.writer, "  Grade:   %s (%s)\n", interp.Grade, interp.Summary)
		if f.verbose && len(interp.Concerns) > 0 {
			fmt.Fprintf(f.writer, "  Concerns: %s\n", strings.Join(interp.Concerns, ", "))
		}
	}
}

func (f *InteractiveFormatter) FormatStats(resp *api.StatsResponse) {
	verdict := resp.Summary.Verdict
	if !f.noColor {
		switch verdict {
		case "ok":
			verdict = fmt.Sprintf("\033[32m%s\033[0m", verdict)
		case "warn":
			verdict = fmt.Sprintf("\033[33m%s\033[0m", verdict)
		default:
			verdict = fmt.Sprintf("\033[31m%s\033[0m", verdict)
		}
	}
	fmt.Fprintf(f.writer, "\r%s: %s  errors=%d drops=%d crc=%d  %s\033[K",
		resp.Iface, resp.Summary.Link, resp.Summary.Errors, resp.Summary.Drops,
		resp.Summary.CRC, verdict)
	f.barDrawn = true
}

func (f *InteractiveFormatter) FormatHistory(runs []api.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(f.writer, "No stored runs.")
		return
	}
	fmt.Fprintf(f.writer, "%-20s %-9s %-20s %-5s %3s %10s %10s %s\n",
		"STARTED", "STATUS", "TARGET", "PROTO", "N", "AVG", "MAX", "UNITS")
	for _, run := range runs {
		fmt.Fprintf(f.writer, "%-20s %-9s %-20s %-5s %3d %10.2f %10.2f %s\n",
			run.StartedAt.Format("2006-01-02 15:04:05"), run.Status,
			run.Target, run.Protocol, run.Streams, run.Avg, run.Max, run.Unit)
	}
}

func (f *InteractiveFormatter) FormatError(err error) {
	f.endBar()
	fmt.Fprintf(os.Stderr, "linkpanel client: error: %v\n", err)
}

func (f *InteractiveFormatter) printLine(s string) {
	f.endBar()
	fmt.Fprintln(f.writer, s)
}

// endBar terminates an in-place bar so subsequent output starts on a clean
// line.
func (f *InteractiveFormatter) endBar() {
	if f.barDrawn {
		fmt.Fprintln(f.writer)
		f.barDrawn = false
	}
}

// barWidth sizes the bar to the terminal, leaving room for the readout.
func (f *InteractiveFormatter) barWidth() int {
	const minWidth, maxWidth, reserved = 10, 60, 40
	width := maxWidth
	if file, ok := f.writer.(*os.File); ok {
		if cols, _, err := term.GetSize(int(file.Fd())); err == nil {
			width = cols - reserved
		}
	}
	if width < minWidth {
		width = minWidth
	}
	if width > maxWidth {
		width = maxWidth
	}
	return width
}
