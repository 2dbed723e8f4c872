package vfs

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/wippyai/wasix-runtime/errors"
)

func TestStreamReader(t *testing.T) {
	p := NewPipe(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = p.Write([]byte("hello "))
		time.Sleep(10 * time.Millisecond)
		_, _ = p.Write([]byte("world"))
		_ = p.Close()
	}()

	got, err := io.ReadAll(NewStreamReader(context.Background(), p, p))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
}

func TestStreamReader_NoRoot(t *testing.T) {
	r := NewStreamReader(context.Background(), NewPipe(0), nil)
	_, err := r.Read(make([]byte, 4))
	if !errors.HasKind(err, errors.KindWouldBlock) {
		t.Errorf("err = %v, want would_block", err)
	}
}

func TestStreamReader_Cancel(t *testing.T) {
	p := NewPipe(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := NewStreamReader(ctx, p, p).Read(make([]byte, 4)); err != context.DeadlineExceeded {
		t.Errorf("err = %v, want deadline", err)
	}
}

func TestStreamWriter(t *testing.T) {
	p := NewPipe(3)
	var out bytes.Buffer
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 2)
		for out.Len() < 8 {
			n, err := p.Read(buf)
			if err != nil {
				time.Sleep(time.Millisecond)
				continue
			}
			out.Write(buf[:n])
		}
	}()

	n, err := NewStreamWriter(context.Background(), p, p).Write([]byte("abcdefgh"))
	if err != nil || n != 8 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	<-done
	if out.String() != "abcdefgh" {
		t.Errorf("got %q", out.String())
	}

	_ = p.Close()
	if _, err := NewStreamWriter(context.Background(), p, p).Write([]byte("x")); !errors.HasKind(err, errors.KindBrokenPipe) {
		t.Errorf("write after close = %v", err)
	}
}
