// Package logging writes log output to a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultMaxSizeMB = 10

	// KeepRotated is the number of rotated files kept next to the
	// current log file.
	KeepRotated = 5

	rotatedSuffixFormat = "20060102-150405.000"
)

// Config configures New.
type Config struct {
	// File is the path of the log file.
	File string

	// MaxSizeMB is the size at which the file is rotated.
	// DefaultMaxSizeMB is used when it is zero.
	MaxSizeMB int64

	// OptMirror also receives everything written. It is typically
	// os.Stderr.
	OptMirror io.Writer
}

// New opens or creates the log file, creating its directory if
// needed.
func New(config Config) (*File, error) {
	if config.File == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}

	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = DefaultMaxSizeMB
	}

	if config.MaxSizeMB < 0 {
		return nil, fmt.Errorf("log file max size cannot be negative - got %d", config.MaxSizeMB)
	}

	err := os.MkdirAll(filepath.Dir(config.File), 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory - %w", err)
	}

	f := &File{
		path:    config.File,
		maxSize: config.MaxSizeMB * 1024 * 1024,
		mirror:  config.OptMirror,
	}

	err = f.open()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// File is an io.Writer that appends to a log file and rotates it
// when it grows past its maximum size.
type File struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	mirror  io.Writer
	file    *os.File
	size    int64
}

func (o *File) open() error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file - %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file - %w", err)
	}

	o.file = f
	o.size = info.Size()

	return nil
}

func (o *File) Path() string {
	return o.path
}

func (o *File) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.mirror != nil {
		_, _ = o.mirror.Write(p)
	}

	if o.file == nil {
		return 0, os.ErrClosed
	}

	if o.size > 0 && o.size+int64(len(p)) > o.maxSize {
		err := o.rotate()
		if err != nil {
			return 0, err
		}
	}

	n, err := o.file.Write(p)
	o.size += int64(n)

	return n, err
}

func (o *File) rotate() error {
	o.file.Close()
	o.file = nil

	rotated := o.path + "." + time.Now().Format(rotatedSuffixFormat)

	err := os.Rename(o.path, rotated)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to rotate log file - %w", err)
	}

	o.removeOldRotated()

	return o.open()
}

// removeOldRotated keeps the newest KeepRotated files. The suffix
// format sorts oldest first.
func (o *File) removeOldRotated() {
	matches, err := filepath.Glob(o.path + ".*")
	if err != nil {
		return
	}

	for i := 0; i < len(matches)-KeepRotated; i++ {
		_ = os.Remove(matches[i])
	}
}

func (o *File) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}

	err := o.file.Close()
	o.file = nil

	return err
}
