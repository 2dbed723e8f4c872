package vfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/wasix-runtime/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPipe_ReadWrite(t *testing.T) {
	p := NewPipe(0)
	buf := make([]byte, 4)
	if _, err := p.Read(buf); !errors.HasKind(err, errors.KindWouldBlock) {
		t.Errorf("empty read = %v, want would_block", err)
	}

	_, _ = p.Write([]byte("abcdef"))
	if p.Buffered() != 6 {
		t.Errorf("Buffered = %d", p.Buffered())
	}
	n, err := p.Read(buf)
	if err != nil || string(buf[:n]) != "abcd" {
		t.Errorf("Read = %q, %v", buf[:n], err)
	}
	if n, known, _ := p.BytesAvailableRead(); !known || n != 2 {
		t.Errorf("available = %d, %v", n, known)
	}

	_ = p.Close()
	if p.IsOpen() {
		t.Error("closed pipe reports open")
	}
	if n, known, _ := p.BytesAvailableRead(); !known || n != 2 {
		t.Error("buffered data should stay readable after close")
	}
	_, _ = p.Read(buf)
	if _, known, _ := p.BytesAvailableRead(); known {
		t.Error("drained closed pipe should report unknown")
	}
	if _, err := p.Read(buf); err != io.EOF {
		t.Errorf("read = %v, want EOF", err)
	}
}

func TestPipe_ShortWrite(t *testing.T) {
	p := NewPipe(3)
	n, err := p.Write([]byte("abcde"))
	if n != 3 || !errors.HasKind(err, errors.KindWouldBlock) {
		t.Errorf("Write = %d, %v", n, err)
	}
}

func TestPipe_WakesRoot(t *testing.T) {
	p := NewPipe(0)
	c := &wakeCounter{}
	for i := 0; i < 3; i++ {
		p.RegisterRoot(c)
	}
	_, _ = p.Write([]byte("x"))
	if c.n != 3 {
		t.Errorf("woken = %d, want 3", c.n)
	}
	_, _ = p.Write([]byte("y"))
	if c.n != 3 {
		t.Error("root wakers must fire once")
	}
}

type wakeCounter struct{ n int }

func (w *wakeCounter) Wake() { w.n++ }

func TestNull(t *testing.T) {
	var n Null
	if k := n.Kind(); k != KindNull {
		t.Errorf("Kind = %v", k)
	}
	if _, err := n.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("Read = %v", err)
	}
	if c, _ := n.Write([]byte("abc")); c != 3 {
		t.Errorf("Write = %d", c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := WaitClosed(ctx, n, n); err != context.DeadlineExceeded {
		t.Errorf("WaitClosed on null = %v, want deadline", err)
	}
}

func TestLogFile(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := NewLogFile(zap.New(core), "stdout")

	_, _ = f.Write([]byte("first line\nsecond "))
	_, _ = f.Write([]byte("line\r\npartial"))
	if logs.Len() != 2 {
		t.Fatalf("entries = %d, want 2", logs.Len())
	}
	_ = f.Close()

	entries := logs.All()
	want := []string{"first line", "second line", "partial"}
	for i, w := range want {
		if entries[i].Message != w {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Message, w)
		}
		if entries[i].ContextMap()["stream"] != "stdout" {
			t.Errorf("entry %d missing stream field", i)
		}
	}
	if f.IsOpen() {
		t.Error("closed log file reports open")
	}
}

func TestHostFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer fh.Close()

	h := NewHostFile(fh)
	if h.Kind() != KindFile {
		t.Errorf("Kind = %v, want file", h.Kind())
	}
	if _, ok := AsTerminal(h); ok {
		t.Error("regular file should not be a terminal")
	}
	if _, known, _ := h.BytesAvailableRead(); known {
		t.Error("host file readiness should be unknown")
	}
	if _, err := h.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	h.Detach()
	if h.IsOpen() {
		t.Error("detached file reports open")
	}
}

func TestAsTerminal_Pipe(t *testing.T) {
	if _, ok := AsTerminal(NewPipe(0)); ok {
		t.Error("pipe is not a terminal")
	}
	if _, ok := AsTerminal(nil); ok {
		t.Error("nil is not a terminal")
	}
}

func TestStdio(t *testing.T) {
	tests := []struct {
		in   string
		mode StdioMode
		out  Kind
	}{
		{"piped", StdioPiped, KindPipe},
		{"null", StdioNull, KindNull},
		{"log", StdioLog, KindLog},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseStdioMode(tt.in)
			if err != nil || m != tt.mode {
				t.Fatalf("ParseStdioMode = %v, %v", m, err)
			}
			s := NewStdio(m, zap.NewNop())
			if s.Out.Kind() != tt.out || s.Err.Kind() != tt.out {
				t.Errorf("out kinds = %v/%v, want %v", s.Out.Kind(), s.Err.Kind(), tt.out)
			}
			if err := s.Close(); err != nil {
				t.Errorf("Close = %v", err)
			}
		})
	}

	if _, err := ParseStdioMode("bogus"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if StdioInherit.String() != "inherit" {
		t.Error("inherit name")
	}
}

func TestKind_String(t *testing.T) {
	if KindTTY.String() != "tty" || Kind(99).String() != "unknown" {
		t.Error("unexpected kind names")
	}
}
