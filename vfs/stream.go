package vfs

import (
	"context"
	"io"

	"github.com/wippyai/wasix-runtime/errors"
)

type streamReader struct {
	ctx  context.Context
	f    VirtualFile
	root RootRegistrar
}

// NewStreamReader returns an io.Reader over f that waits for readiness
// instead of failing with KindWouldBlock. Without a root nothing can wake
// it, so KindWouldBlock is returned to the caller.
func NewStreamReader(ctx context.Context, f VirtualFile, root RootRegistrar) io.Reader {
	return &streamReader{ctx: ctx, f: f, root: root}
}

func (s *streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		b, err := Read(s.ctx, s.f, s.root, len(p))
		if errors.HasKind(err, errors.KindWouldBlock) && s.root != nil {
			continue
		}
		n := copy(p, b)
		if n > 0 && err == io.EOF {
			return n, nil
		}
		return n, err
	}
}

type streamWriter struct {
	ctx  context.Context
	f    VirtualFile
	root RootRegistrar
}

// NewStreamWriter returns an io.Writer over f that waits for room
// instead of accepting short writes.
func NewStreamWriter(ctx context.Context, f VirtualFile, root RootRegistrar) io.Writer {
	return &streamWriter{ctx: ctx, f: f, root: root}
}

func (s *streamWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := Write(s.ctx, s.f, s.root, p[written:])
		written += n
		if err != nil && (s.root == nil || !errors.HasKind(err, errors.KindWouldBlock)) {
			return written, err
		}
	}
	return written, nil
}
