package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/seqgrab/seqgrab/internal/batch"
)

const humanizeRound = 100 * time.Millisecond

type itemStartedMsg struct {
	item     batch.Item
	position int
	total    int
}

type itemFinishedMsg struct {
	res      batch.ItemResult
	position int
	total    int
}

type runFinishedMsg struct {
	report batch.Report
}

// Dashboard is a live batch view. It implements batch.Observer by sending
// messages into the bubbletea program, so observer callbacks are safe
// from any goroutine.
type Dashboard struct {
	program *tea.Program
}

// NewDashboard builds the dashboard for a run of total items. The quit
// keys call cancel before the program exits; with the terminal in raw
// mode that is the only interrupt path the run has.
func NewDashboard(total int, cancel func()) *Dashboard {
	m := newDashModel(total, cancel)
	return &Dashboard{program: tea.NewProgram(m)}
}

// Run blocks until the dashboard exits. Call from the main goroutine.
func (d *Dashboard) Run() error {
	_, err := d.program.Run()
	return err
}

func (d *Dashboard) ItemStarted(item batch.Item, position, total int) {
	d.program.Send(itemStartedMsg{item: item, position: position, total: total})
}

func (d *Dashboard) ItemFinished(res batch.ItemResult, position, total int) {
	d.program.Send(itemFinishedMsg{res: res, position: position, total: total})
}

func (d *Dashboard) RunFinished(report batch.Report) {
	d.program.Send(runFinishedMsg{report: report})
}

type dashModel struct {
	spin      spinner.Model
	bar       progress.Model
	total     int
	finished  int
	active    map[int]string
	rows      []string
	report    *batch.Report
	cancel    func()
	cancelled bool
}

func newDashModel(total int, cancel func()) dashModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return dashModel{
		spin:   s,
		bar:    progress.New(progress.WithDefaultGradient()),
		total:  total,
		active: make(map[int]string),
		cancel: cancel,
	}
}

func (m dashModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			if m.cancel != nil {
				m.cancel()
			}
			m.cancelled = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case itemStartedMsg:
		m.active[msg.item.Index] = msg.item.Title
		return m, nil
	case itemFinishedMsg:
		delete(m.active, msg.res.Item.Index)
		m.finished++
		m.rows = append(m.rows, finishedRow(msg.res))
		if len(m.rows) > 12 {
			m.rows = m.rows[len(m.rows)-12:]
		}
		return m, nil
	case runFinishedMsg:
		report := msg.report
		m.report = &report
		return m, tea.Quit
	}
	return m, nil
}

func (m dashModel) View() string {
	var b strings.Builder

	ratio := 0.0
	if m.total > 0 {
		ratio = float64(m.finished) / float64(m.total)
	}
	fmt.Fprintf(&b, "%s %d/%d\n", m.bar.ViewAs(ratio), m.finished, m.total)

	for _, title := range sortedActive(m.active) {
		fmt.Fprintf(&b, "%s %s\n", m.spin.View(), title)
	}
	for _, row := range m.rows {
		b.WriteString(row)
		b.WriteByte('\n')
	}

	if m.report != nil {
		fmt.Fprintf(&b, "\n%d ok, %d failed, %d skipped",
			m.report.Succeeded, m.report.Failed, m.report.Skipped)
		if m.report.Bytes > 0 {
			fmt.Fprintf(&b, ", %s", humanize.Bytes(uint64(m.report.Bytes)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func finishedRow(res batch.ItemResult) string {
	switch {
	case res.Skipped:
		return fmt.Sprintf("%s %s", skipStyle.Render("SKIP"), res.Item.Title)
	case res.Success:
		return fmt.Sprintf("%s %s (%s)", okStyle.Render("OK"), res.Item.Title,
			humanize.Bytes(uint64(res.Bytes)))
	default:
		return fmt.Sprintf("%s %s: %s", failStyle.Render("FAIL"), res.Item.Title,
			lipgloss.NewStyle().Faint(true).Render(res.Reason))
	}
}

func sortedActive(active map[int]string) []string {
	keys := make([]int, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	titles := make([]string, len(keys))
	for i, k := range keys {
		titles[i] = active[k]
	}
	return titles
}
