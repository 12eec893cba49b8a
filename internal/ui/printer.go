// Package ui renders run progress, either as plain stderr lines or as a
// live terminal dashboard.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/seqgrab/seqgrab/internal/batch"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Printer writes per-item progress lines to w. It implements
// batch.Observer and is safe for concurrent use.
type Printer struct {
	mu sync.Mutex
	w  io.Writer

	// Quiet suppresses progress lines, keeping only the summary.
	Quiet bool

	// JSON emits one machine-readable line per finished item instead of
	// styled text.
	JSON bool
}

// NewPrinter writes to w, typically os.Stderr.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) prefix(position, total int) string {
	return dimStyle.Render(fmt.Sprintf("[%d/%d]", position, total))
}

// ItemStarted announces a dispatch.
func (p *Printer) ItemStarted(item batch.Item, position, total int) {
	if p.Quiet || p.JSON {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s %s\n", p.prefix(position, total), item.Title, dimStyle.Render(item.URL))
}

// ItemFinished prints the outcome row for one item.
func (p *Printer) ItemFinished(res batch.ItemResult, position, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.JSON {
		p.emitJSON(res)
		return
	}
	if p.Quiet {
		return
	}

	prefix := p.prefix(position, total)
	switch {
	case res.Skipped:
		fmt.Fprintf(p.w, "%s %s %s\n", prefix, skipStyle.Render("SKIP"), res.Item.Title)
	case res.Success:
		fmt.Fprintf(p.w, "%s %s %s (%s in %s)\n", prefix, okStyle.Render("OK"),
			res.Item.Title, humanize.Bytes(uint64(res.Bytes)), res.Elapsed.Round(humanizeRound))
	default:
		fmt.Fprintf(p.w, "%s %s %s: %s\n", prefix, failStyle.Render("FAIL"),
			res.Item.Title, res.Reason)
	}
}

func (p *Printer) emitJSON(res batch.ItemResult) {
	line := struct {
		Index   int    `json:"index"`
		URL     string `json:"url"`
		Status  string `json:"status"`
		Bytes   int64  `json:"bytes,omitempty"`
		Path    string `json:"path,omitempty"`
		Reason  string `json:"reason,omitempty"`
		Elapsed string `json:"elapsed,omitempty"`
	}{
		Index: res.Item.Index,
		URL:   res.Item.URL,
	}
	switch {
	case res.Skipped:
		line.Status = "skipped"
	case res.Success:
		line.Status = "ok"
		line.Bytes = res.Bytes
		line.Path = res.Item.DestPath
		line.Elapsed = res.Elapsed.Round(humanizeRound).String()
	default:
		line.Status = "failed"
		line.Reason = res.Reason
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Fprintf(p.w, "%s\n", data)
}

// RunFinished prints the summary block.
func (p *Printer) RunFinished(report batch.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.JSON {
		data, err := json.Marshal(struct {
			Total     int    `json:"total"`
			Succeeded int    `json:"succeeded"`
			Failed    int    `json:"failed"`
			Skipped   int    `json:"skipped"`
			Bytes     int64  `json:"bytes"`
			Elapsed   string `json:"elapsed"`
		}{report.Total, report.Succeeded, report.Failed, report.Skipped,
			report.Bytes, report.Elapsed.Round(humanizeRound).String()})
		if err == nil {
			fmt.Fprintf(p.w, "%s\n", data)
		}
		return
	}

	fmt.Fprintf(p.w, "\nSummary: %d total, %s, %s, %s",
		report.Total,
		okStyle.Render(fmt.Sprintf("%d ok", report.Succeeded)),
		failStyle.Render(fmt.Sprintf("%d failed", report.Failed)),
		skipStyle.Render(fmt.Sprintf("%d skipped", report.Skipped)))
	if report.Bytes > 0 {
		fmt.Fprintf(p.w, ", %s", humanize.Bytes(uint64(report.Bytes)))
	}
	fmt.Fprintf(p.w, " in %s\n", report.Elapsed.Round(humanizeRound))

	for _, f := range report.Failures {
		fmt.Fprintf(p.w, "  %s episode %d: %s\n", failStyle.Render("FAIL"), f.Index, f.Reason)
	}
}

// Warnf prints a warning line outside the per-item flow.
func (p *Printer) Warnf(format string, args ...any) {
	if p.JSON {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", skipStyle.Render("WARN"), fmt.Sprintf(format, args...))
}
