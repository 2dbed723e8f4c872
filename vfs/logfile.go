package vfs

import (
	"bytes"
	"io"
	"sync"

	"go.uber.org/zap"
)

// LogFile turns written lines into log entries.
type LogFile struct {
	mu     sync.Mutex
	log    *zap.Logger
	stream string
	line   bytes.Buffer
	closed bool
}

var _ VirtualFile = (*LogFile)(nil)

// NewLogFile logs lines written for stream to l, or to the package logger
// when l is nil.
func NewLogFile(l *zap.Logger, stream string) *LogFile {
	if l == nil {
		l = Logger()
	}
	return &LogFile{log: l, stream: stream}
}

func (f *LogFile) Kind() Kind { return KindLog }

func (f *LogFile) Read([]byte) (int, error) { return 0, io.EOF }

// Write logs each complete line and keeps any trailing partial line.
func (f *LogFile) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.line.Write(b)
	for {
		data := f.line.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		f.emit(data[:i])
		f.line.Next(i + 1)
	}
	return len(b), nil
}

func (f *LogFile) emit(line []byte) {
	f.log.Info(string(bytes.TrimRight(line, "\r")), zap.String("stream", f.stream))
}

// Flush logs a pending partial line.
func (f *LogFile) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.line.Len() > 0 {
		f.emit(f.line.Bytes())
		f.line.Reset()
	}
}

func (f *LogFile) BytesAvailableRead() (int, bool, error) { return 0, false, nil }

func (f *LogFile) BytesAvailableWrite() (int, bool, error) { return DefaultWriteWindow, true, nil }

func (f *LogFile) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

// Close flushes and marks the handle closed.
func (f *LogFile) Close() error {
	f.Flush()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
