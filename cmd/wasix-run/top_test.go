package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/wippyai/wasix-runtime/process"
	"github.com/wippyai/wasix-runtime/thread"
)

func sleeper(release <-chan struct{}) process.Program {
	return process.ProgramFunc(func(ctx context.Context, _ *process.Process, _ *thread.Thread, _ []string) uint32 {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0
	})
}

func TestRows(t *testing.T) {
	got := rows([]process.Info{
		{PID: 1, State: process.Running, Threads: 2, Image: "init"},
		{PID: 2, Parent: 1, State: process.Zombie, Image: "sh", Status: process.ExitStatus{Code: 3}},
	})
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0][0] != "1" || got[0][2] != "running" || got[0][3] != "2" || got[0][5] != "" {
		t.Errorf("row 0 = %v", got[0])
	}
	if got[1][1] != "1" || got[1][5] != "exit 3" {
		t.Errorf("row 1 = %v", got[1])
	}
}

func TestTopModel_Kill(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	ctx := context.Background()
	procs := process.NewManager(process.Programs{"sleep": sleeper(release)}, process.DefaultConfig())
	pid, err := procs.Spawn(ctx, 0, &process.Image{Name: "sleep"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := procs.Get(pid)

	m := newTopModel(procs, pid, p.Done())
	if n := len(m.table.Rows()); n != 1 {
		t.Fatalf("table rows = %d, want 1", n)
	}

	_, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if m.err != nil {
		t.Fatalf("kill: %v", m.err)
	}

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("process survived SIGKILL")
	}
	status, _ := p.Status()
	if status.Code != 137 {
		t.Errorf("status = %v, want killed by SIGKILL", status)
	}

	if _, cmd := m.Update(rootExitedMsg{}); cmd == nil {
		t.Error("root exit should quit the view")
	}
}

func TestTopModel_Quit(t *testing.T) {
	procs := process.NewManager(process.Programs{}, process.DefaultConfig())
	m := newTopModel(procs, 0, make(chan struct{}))
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("q should quit")
	}
	if v := m.View(); v == "" {
		t.Error("empty view")
	}
}
