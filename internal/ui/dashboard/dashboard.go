// Package dashboard renders the live `fuzz --statistics` terminal view:
// executions/sec, corpus size, coverage edges, crash count, and the
// current energy distribution across corpus entries, refreshed on a
// ticker. It is a bubbletea tea.Model driven by stats.Stats and
// corpus.Corpus snapshots.
package dashboard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hoedur/hoedur/internal/corpus"
	"github.com/hoedur/hoedur/internal/scheduler"
	"github.com/hoedur/hoedur/internal/stats"
)

const tickInterval = 500 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	crashStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	frameStyle = lipgloss.NewStyle().Padding(1, 2).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

// tickMsg fires every tickInterval to pull a fresh Stats/Corpus
// snapshot.
type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// energyBar is one corpus entry's share of the current energy
// distribution, for the bar chart row.
type energyBar struct {
	label    string
	energy   float64
	fraction float64
}

// Model is the dashboard's bubbletea state: the statistics/corpus it
// polls, the scheduler whose Energy formula drives the distribution
// panel, and the latest rendered snapshot.
type Model struct {
	stats    *stats.Stats
	corp     *corpus.Corpus
	sched    *scheduler.Scheduler
	firmware string

	snapshot stats.Snapshot
	bars     []energyBar
	width    int
}

// New creates a dashboard Model polling stats/corp/sched for the
// named firmware target.
func New(s *stats.Stats, corp *corpus.Corpus, sched *scheduler.Scheduler, firmware string) Model {
	return Model{stats: s, corp: corp, sched: sched, firmware: firmware, width: 72}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		m.snapshot = m.stats.Snapshot(m.corp)
		m.bars = m.energyDistribution()
		return m, tick()
	}
	return m, nil
}

// energyDistribution computes each entry's energy weight normalized
// by the sum, the same quantities Corpus.Select draws against, so the
// dashboard's bars reflect actual selection probability rather than a
// separate display-only metric.
func (m Model) energyDistribution() []energyBar {
	entries := m.corp.Entries()
	if len(entries) == 0 || m.sched == nil {
		return nil
	}
	bars := make([]energyBar, 0, len(entries))
	var total float64
	for _, e := range entries {
		w := m.sched.Energy(e)
		total += w
		bars = append(bars, energyBar{label: shortUUID(e.Input.UUID.String()), energy: w})
	}
	if total <= 0 {
		return nil
	}
	for i := range bars {
		bars[i].fraction = bars[i].energy / total
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].energy > bars[j].energy })
	if len(bars) > 8 {
		bars = bars[:8]
	}
	return bars
}

func shortUUID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (m Model) View() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s  %s\n\n", titleStyle.Render("hoedur"), labelStyle.Render(m.firmware))

	b.WriteString(row("executions", fmt.Sprintf("%d", m.snapshot.Executions)))
	b.WriteString(row("execs/sec", fmt.Sprintf("%.1f", m.snapshot.Throughput)))
	b.WriteString(row("corpus size", fmt.Sprintf("%d", m.snapshot.CorpusSize)))
	b.WriteString(row("basic blocks", fmt.Sprintf("%d", m.snapshot.BasicBlock)))
	b.WriteString(row("edges", fmt.Sprintf("%d", m.snapshot.Edges)))
	b.WriteString(crashRow(m.snapshot.Crashes))

	if len(m.bars) > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("energy distribution (top entries)"))
		b.WriteString("\n")
		for _, bar := range m.bars {
			b.WriteString(energyRow(bar))
		}
	}

	return frameStyle.Width(m.width - 4).Render(b.String())
}

func row(label, value string) string {
	return fmt.Sprintf("%s %s\n", labelStyle.Width(16).Render(label), valueStyle.Render(value))
}

func crashRow(n uint64) string {
	rendered := fmt.Sprintf("%d", n)
	if n > 0 {
		rendered = crashStyle.Render(rendered)
	}
	return fmt.Sprintf("%s %s\n", labelStyle.Width(16).Render("crashes"), rendered)
}

const barWidth = 30

func energyRow(bar energyBar) string {
	filled := int(bar.fraction * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	gauge := barStyle.Render(strings.Repeat("█", filled)) + strings.Repeat("░", barWidth-filled)
	return fmt.Sprintf("%s %s %s\n", labelStyle.Width(10).Render(bar.label), gauge, valueStyle.Render(fmt.Sprintf("%5.1f%%", bar.fraction*100)))
}
