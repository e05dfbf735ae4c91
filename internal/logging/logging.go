// Package logging builds the component loggers of rr.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log output.
type Options struct {
	// File enables a rotating log file written alongside Stderr
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Stderr receives every line; nil means os.Stderr
	Stderr io.Writer
	// Quiet drops the Stderr copy when File is set
	Quiet bool
}

// Factory hands out loggers sharing one output.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger

	mu      sync.Mutex
	loggers map[string]*log.Logger
}

// NewFactory opens the log output described by opts.
func NewFactory(opts Options) (*Factory, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	f := &Factory{out: stderr, loggers: make(map[string]*log.Logger)}
	if opts.File == "" {
		return f, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}
	f.file = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	if opts.Quiet {
		f.out = f.file
	} else {
		f.out = io.MultiWriter(stderr, f.file)
	}
	return f, nil
}

// Logger returns the logger of a component, prefixed "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.loggers[component]; ok {
		return l
	}
	l := log.New(f.out, "["+strings.TrimSpace(component)+"] ", log.LstdFlags)
	f.loggers[component] = l
	return l
}

// Discard returns a logger that writes nothing.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// Close flushes and closes the log file, if any.
func (f *Factory) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
