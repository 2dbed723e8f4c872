package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasix-runtime/process"
	"github.com/wippyai/wasix-runtime/signal"
)

const refreshInterval = 250 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var topColumns = []table.Column{
	{Title: "PID", Width: 6},
	{Title: "PPID", Width: 6},
	{Title: "STATE", Width: 8},
	{Title: "THR", Width: 4},
	{Title: "IMAGE", Width: 16},
	{Title: "STATUS", Width: 18},
	{Title: "PENDING", Width: 20},
}

type topModel struct {
	procs *process.Manager
	root  process.PID
	done  <-chan struct{}
	table table.Model
	note  string
	err   error
}

type tickMsg time.Time

type rootExitedMsg struct{}

func newTopModel(procs *process.Manager, root process.PID, done <-chan struct{}) *topModel {
	t := table.New(
		table.WithColumns(topColumns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(s)

	m := &topModel{procs: procs, root: root, done: done, table: t}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *topModel) waitRoot() tea.Msg {
	<-m.done
	return rootExitedMsg{}
}

func (m *topModel) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitRoot)
}

func (m *topModel) refresh() {
	m.table.SetRows(rows(m.procs.List()))
}

// rows renders the process table, one row per process.
func rows(infos []process.Info) []table.Row {
	out := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		status := ""
		if info.State == process.Zombie {
			status = info.Status.String()
		}
		var pending []string
		for _, sig := range info.Pending.Signals() {
			pending = append(pending, sig.String())
		}
		out = append(out, table.Row{
			strconv.FormatUint(uint64(info.PID), 10),
			strconv.FormatUint(uint64(info.Parent), 10),
			info.State.String(),
			strconv.Itoa(info.Threads),
			info.Image,
			status,
			strings.Join(pending, ","),
		})
	}
	return out
}

func (m *topModel) selected() (process.PID, bool) {
	row := m.table.SelectedRow()
	if len(row) == 0 {
		return 0, false
	}
	pid, err := strconv.ParseUint(row[0], 10, 32)
	if err != nil {
		return 0, false
	}
	return process.PID(pid), true
}

func (m *topModel) send(sig signal.Signal) {
	pid, ok := m.selected()
	if !ok {
		return
	}
	m.err = m.procs.Signal(pid, sig)
	if m.err == nil {
		m.note = fmt.Sprintf("sent %s to %d", sig, pid)
	}
	m.refresh()
}

func (m *topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "k":
			m.send(signal.SIGKILL)
			return m, nil
		case "t":
			m.send(signal.SIGTERM)
			return m, nil
		}

	case tickMsg:
		m.refresh()
		return m, tick()

	case rootExitedMsg:
		m.refresh()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *topModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("wasix processes"))
	b.WriteString(fmt.Sprintf(" root %d, %d in table\n\n", m.root, m.procs.Len()))
	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	case m.note != "":
		b.WriteString(statusStyle.Render(m.note))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select • k SIGKILL • t SIGTERM • q quit"))
	return b.String()
}
