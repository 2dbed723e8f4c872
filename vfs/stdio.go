package vfs

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// StdioMode selects how a process's standard streams are backed.
type StdioMode int

const (
	StdioPiped   StdioMode = iota // in-memory pipes the host reads and writes
	StdioInherit                  // the host's own standard streams
	StdioNull                     // end of file and discard
	StdioLog                      // output lines become log entries
)

func (m StdioMode) String() string {
	switch m {
	case StdioPiped:
		return "piped"
	case StdioInherit:
		return "inherit"
	case StdioNull:
		return "null"
	case StdioLog:
		return "log"
	default:
		return fmt.Sprintf("StdioMode(%d)", int(m))
	}
}

// ParseStdioMode parses the String form of a mode.
func ParseStdioMode(s string) (StdioMode, error) {
	for m := StdioPiped; m <= StdioLog; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown stdio mode %q", s)
}

// Stdio holds the three standard handles of a process.
type Stdio struct {
	Mode StdioMode
	In   VirtualFile
	Out  VirtualFile
	Err  VirtualFile
}

// NewStdio opens standard handles for mode. l is used by StdioLog and may
// be nil.
func NewStdio(mode StdioMode, l *zap.Logger) *Stdio {
	s := &Stdio{Mode: mode}
	switch mode {
	case StdioPiped:
		s.In, s.Out, s.Err = NewPipe(0), NewPipe(0), NewPipe(0)
	case StdioInherit:
		s.In, s.Out, s.Err = NewHostFile(os.Stdin), NewHostFile(os.Stdout), NewHostFile(os.Stderr)
	case StdioLog:
		s.In, s.Out, s.Err = Null{}, NewLogFile(l, "stdout"), NewLogFile(l, "stderr")
	default:
		s.In, s.Out, s.Err = Null{}, Null{}, Null{}
	}
	return s
}

// Close closes the output pipes and log handles, flushing pending log lines
// and signalling end of file to pipe readers. Host files stay open.
func (s *Stdio) Close() error {
	for _, f := range []VirtualFile{s.Out, s.Err} {
		if c, ok := f.(io.Closer); ok {
			if err := c.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}
