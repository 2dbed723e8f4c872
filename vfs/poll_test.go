package vfs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/wasix-runtime/errors"
	"github.com/wippyai/wasix-runtime/sched"
	"github.com/wippyai/wasix-runtime/waker"
)

// fakeFile reports whatever availability the test sets.
type fakeFile struct {
	mu      sync.Mutex
	n       int
	known   bool
	err     error
	readErr error
	reads   int
	open    bool
}

func (f *fakeFile) Kind() Kind { return KindSocket }

func (f *fakeFile) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return 0, f.readErr
	}
	return copy(b, "hello"), nil
}

func (f *fakeFile) Write(b []byte) (int, error) { return len(b), nil }

func (f *fakeFile) BytesAvailableRead() (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n, f.known, f.err
}

func (f *fakeFile) BytesAvailableWrite() (int, bool, error) { return f.BytesAvailableRead() }

func (f *fakeFile) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type countingRoot struct {
	reg waker.Registry
}

func (r *countingRoot) RegisterRoot(w waker.Wakeable) { r.reg.Register(w) }

func TestPollReadReady(t *testing.T) {
	tests := []struct {
		name       string
		file       *fakeFile
		status     sched.Status
		value      int
		kind       errors.Kind
		registered bool
	}{
		{name: "zero registers", file: &fakeFile{n: 0, known: true}, status: sched.Pending, registered: true},
		{name: "bytes ready", file: &fakeFile{n: 7, known: true}, status: sched.Ready, value: 7},
		{name: "unknown would block", file: &fakeFile{known: false}, status: sched.Ready, kind: errors.KindWouldBlock},
		{name: "query error", file: &fakeFile{err: io.ErrClosedPipe}, status: sched.Ready, kind: errors.KindBrokenPipe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := &countingRoot{}
			r := PollReadReady(tt.file, root, waker.NewSignal())
			if r.Status != tt.status {
				t.Fatalf("Status = %v, want %v", r.Status, tt.status)
			}
			if r.Value != tt.value {
				t.Errorf("Value = %d, want %d", r.Value, tt.value)
			}
			if tt.kind != "" && !errors.HasKind(r.Err, tt.kind) {
				t.Errorf("Err = %v, want kind %v", r.Err, tt.kind)
			}
			if tt.kind == "" && r.Err != nil {
				t.Errorf("unexpected error %v", r.Err)
			}
			if got := root.reg.Len() > 0; got != tt.registered {
				t.Errorf("registered = %v, want %v", got, tt.registered)
			}
		})
	}
}

func TestPollReadReady_NoRoot(t *testing.T) {
	r := PollReadReady(&fakeFile{known: true}, nil, waker.NewSignal())
	if !errors.HasKind(r.Err, errors.KindWouldBlock) {
		t.Errorf("Err = %v, want would_block", r.Err)
	}
}

func TestPollWriteReady(t *testing.T) {
	p := NewPipe(4)
	if r := PollWriteReady(p, p, nil); r.Status != sched.Ready || r.Value != 4 {
		t.Fatalf("empty bounded pipe = %+v", r)
	}
	_, _ = p.Write([]byte("abcd"))
	if r := PollWriteReady(p, p, waker.NewSignal()); r.Status != sched.Pending {
		t.Fatalf("full pipe should be pending, got %+v", r)
	}

	buf := make([]byte, 2)
	_, _ = p.Read(buf)
	if r := PollWriteReady(p, p, nil); r.Value != 2 {
		t.Errorf("after read = %+v, want 2", r)
	}
}

func TestRead_WaitsForData(t *testing.T) {
	p := NewPipe(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = p.Write([]byte("ping"))
	}()

	got, err := Read(context.Background(), p, p, 16)
	if err != nil || string(got) != "ping" {
		t.Fatalf("Read = %q, %v", got, err)
	}
}

func TestRead_ClosedPipeEOF(t *testing.T) {
	p := NewPipe(0)
	_, _ = p.Write([]byte("x"))
	_ = p.Close()

	got, err := Read(context.Background(), p, p, 16)
	if err != nil || string(got) != "x" {
		t.Fatalf("first Read = %q, %v", got, err)
	}
	if _, err := Read(context.Background(), p, p, 16); err != io.EOF {
		t.Errorf("Read on drained closed pipe = %v, want EOF", err)
	}
}

func TestRead_WouldBlockFallsBack(t *testing.T) {
	f := &fakeFile{known: false}
	got, err := Read(context.Background(), f, nil, 16)
	if err != nil || string(got) != "hello" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	if f.reads != 1 {
		t.Errorf("reads = %d, want 1", f.reads)
	}
}

func TestRead_ErrorNotRetried(t *testing.T) {
	f := &fakeFile{n: 3, known: true, readErr: io.ErrClosedPipe}
	_, err := Read(context.Background(), f, nil, 16)
	if !errors.HasKind(err, errors.KindBrokenPipe) {
		t.Errorf("err = %v, want broken_pipe", err)
	}
	if f.reads != 1 {
		t.Errorf("reads = %d, want 1", f.reads)
	}

	q := &fakeFile{err: errors.InvalidState(errors.PhaseIO, "gone")}
	if _, err := Read(context.Background(), q, nil, 16); !errors.HasKind(err, errors.KindInvalidState) {
		t.Errorf("query error = %v", err)
	}
	if q.reads != 0 {
		t.Error("query error must not fall back to read")
	}
}

func TestReadFuture_PolledAfterCompletion(t *testing.T) {
	p := NewPipe(0)
	_, _ = p.Write([]byte("a"))
	f := NewReadFuture(p, p, 4)
	if r := f.Poll(nil); r.Status != sched.Ready || r.Err != nil {
		t.Fatalf("first poll = %+v", r)
	}
	if r := f.Poll(nil); !errors.HasKind(r.Err, errors.KindBrokenPipe) {
		t.Errorf("second poll = %+v, want broken_pipe", r)
	}
}

func TestWrite(t *testing.T) {
	p := NewPipe(2)
	_, _ = p.Write([]byte("ab"))

	done := make(chan int, 1)
	go func() {
		n, _ := Write(context.Background(), p, p, []byte("cd"))
		done <- n
	}()

	time.Sleep(10 * time.Millisecond)
	buf := make([]byte, 2)
	_, _ = p.Read(buf)

	select {
	case n := <-done:
		if n != 2 {
			t.Errorf("Write = %d, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("write never became ready")
	}

	_ = p.Close()
	if _, err := Write(context.Background(), p, p, []byte("x")); !errors.HasKind(err, errors.KindBrokenPipe) {
		t.Errorf("write after close = %v", err)
	}
}

func TestWaitClosed(t *testing.T) {
	p := NewPipe(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = p.Close()
	}()
	if err := WaitClosed(context.Background(), p, p); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := WaitClosed(ctx, NewPipe(0), nil); !errors.HasKind(err, errors.KindWouldBlock) {
		t.Errorf("WaitClosed without root = %v", err)
	}
}

func TestPump(t *testing.T) {
	e := sched.NewExecutor(1)
	defer e.Close()

	p := NewPipe(8)
	var out bytes.Buffer
	pump := NewPump(p, p, &out)
	h := e.Spawn(context.Background(), pump)

	payload := bytes.Repeat([]byte("0123456789"), 10)
	go func() {
		rest := payload
		for len(rest) > 0 {
			n, err := Write(context.Background(), p, p, rest)
			if err != nil && !errors.HasKind(err, errors.KindWouldBlock) {
				return
			}
			rest = rest[n:]
		}
		_ = p.Close()
	}()

	if err := h.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if pump.Err() != nil {
		t.Fatalf("pump error: %v", pump.Err())
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("pumped %q", out.Bytes())
	}
	if pump.Copied() != int64(len(payload)) {
		t.Errorf("Copied = %d", pump.Copied())
	}
}

// lastChunkFile returns its data together with io.EOF in a single read.
type lastChunkFile struct {
	fakeFile
	data string
}

func (f *lastChunkFile) Read(b []byte) (int, error) {
	n := copy(b, f.data)
	f.data = f.data[n:]
	return n, io.EOF
}

func TestPump_DataWithEOF(t *testing.T) {
	e := sched.NewExecutor(1)
	defer e.Close()

	src := &lastChunkFile{fakeFile: fakeFile{known: false, open: true}, data: "hello"}
	var out bytes.Buffer
	pump := NewPump(src, nil, &out)
	if err := e.Spawn(context.Background(), pump).Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello" || pump.Copied() != 5 || pump.Err() != nil {
		t.Errorf("out = %q, copied = %d, err = %v", out.String(), pump.Copied(), pump.Err())
	}
}

func TestRead_NegativeSize(t *testing.T) {
	f := &fakeFile{n: 3, known: true}
	if _, err := Read(context.Background(), f, nil, -1); !errors.HasKind(err, errors.KindInvalidInput) {
		t.Errorf("err = %v, want invalid_input", err)
	}
	if f.reads != 0 {
		t.Error("negative size must not reach the file")
	}
}
