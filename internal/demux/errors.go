package demux

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is against IOError and FormatError.
var (
	ErrIO     = errors.New("demux: i/o error")
	ErrFormat = errors.New("demux: malformed stream")
)

// IOError reports a failure to open or read the source. It is fatal for the
// parser instance.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("demux: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("demux: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIO) true for every IOError.
func (e *IOError) Is(target error) bool { return target == ErrIO }

// FormatError describes malformed bitstream structure. Offset is the source
// byte offset at which the problem was detected.
type FormatError struct {
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("demux: malformed stream at byte %d: %s", e.Offset, e.Reason)
}

// Is makes errors.Is(err, ErrFormat) true for every FormatError.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }
