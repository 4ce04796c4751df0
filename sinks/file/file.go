// Package file implements the concrete file Writer sketched in
// spec.md §6, grounded on original_source/src/asynclog.cpp's
// file_writer (open/append, errno→Result table) and on
// Philipp01105/nlog's handler/filehandler package for the Go package
// shape (struct wrapping an *os.File behind a mutex-free single writer).
package file

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/vermosen/reckless/output"
)

// fullAccess mirrors the original's S_IRUSR|S_IWUSR|S_IXUSR|... (0777);
// the umask still applies, exactly as it did in the C++ open() call.
const fullAccess = 0o777

// Writer appends log bytes to a file, opening or creating it at
// construction and seeking to the end. It is meant to be owned by
// exactly one consumer goroutine, matching the rest of the core's
// single-accessor-per-resource model.
type Writer struct {
	f *os.File
}

// New opens (or creates) the file at path for appending.
func New(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, fullAccess)
	if err != nil {
		return nil, fmt.Errorf("file: cannot open %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// Close releases the underlying file descriptor. Safe to call once.
// reckless.Cleanup does not call it; the sink's owner closes it.
func (w *Writer) Close() error {
	return w.f.Close()
}

// Write implements output.Writer. It resumes its own syscall across
// EINTR per spec.md §4.1's "must make progress against transient
// interruptions internally" — os.File.Write already retries EINTR
// internally via the runtime's syscall wrapper, so this only needs to
// classify the error that's left once that's exhausted.
func (w *Writer) Write(p []byte) (output.Result, error) {
	n := 0
	for n < len(p) {
		written, err := w.f.Write(p[n:])
		n += written
		if err == nil {
			continue
		}
		return classify(err)
	}
	return output.Success, nil
}

// classify maps a write errno to the Writer Result taxonomy exactly as
// spec.md §6 specifies. Anything not in either list is fatal and
// propagates as an error, matching the original's
// "TODO throw proper error" default branch.
func classify(err error) (output.Result, error) {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return 0, fmt.Errorf("file: unclassified write error: %w", err)
	}

	switch errno {
	case syscall.EFBIG, syscall.EIO, syscall.EPIPE, syscall.ERANGE,
		syscall.ECONNRESET, syscall.EINVAL, syscall.ENXIO, syscall.EACCES,
		syscall.ENETDOWN, syscall.ENETUNREACH:
		return output.ErrorGiveUp, nil
	case syscall.ENOSPC:
		return output.ErrorTryLater, nil
	default:
		return 0, fmt.Errorf("file: unclassified write errno %d: %w", errno, err)
	}
}
