package vfs

import (
	"io"

	"github.com/wippyai/wasix-runtime/waker"
)

// Null reads as end of file and discards writes. It never closes, so
// WaitClosed on it returns only when its context ends.
type Null struct{}

var _ VirtualFile = Null{}

func (Null) Kind() Kind { return KindNull }

func (Null) Read([]byte) (int, error) { return 0, io.EOF }

func (Null) Write(b []byte) (int, error) { return len(b), nil }

func (Null) BytesAvailableRead() (int, bool, error) { return 0, false, nil }

func (Null) BytesAvailableWrite() (int, bool, error) { return DefaultWriteWindow, true, nil }

// IsOpen reports true for as long as the handle exists.
func (Null) IsOpen() bool { return true }

// RegisterRoot drops w; readiness of a null handle never changes.
func (Null) RegisterRoot(waker.Wakeable) {}
