// Package logging builds the component loggers used across syncq.
//
// Every component takes a *log.Logger with a bracketed prefix ("[syncer] ",
// "[daemon] "). A Sink decides where those loggers write: stderr alone, or
// stderr plus a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Sink.
type Options struct {
	// File enables a rotating log file. Empty logs to stderr only.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet drops the stderr copy. Ignored when File is empty.
	Quiet bool
}

// Sink is the shared destination of all component loggers.
type Sink struct {
	w      io.Writer
	rotate *lumberjack.Logger
}

// NewSink opens the destination described by opts.
func NewSink(opts Options) (*Sink, error) {
	if opts.File == "" {
		return &Sink{w: os.Stderr}, nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}
	rotate := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}

	var w io.Writer = rotate
	if !opts.Quiet {
		w = io.MultiWriter(os.Stderr, rotate)
	}
	return &Sink{w: w, rotate: rotate}, nil
}

// Discard returns a sink that drops everything.
func Discard() *Sink {
	return &Sink{w: io.Discard}
}

// Logger returns a logger for component, prefixed "[component] ".
func (s *Sink) Logger(component string) *log.Logger {
	return log.New(s.w, "["+component+"] ", log.LstdFlags)
}

// Writer returns the underlying writer.
func (s *Sink) Writer() io.Writer {
	return s.w
}

// Rotate closes the current log file and starts a new one. It is a no-op
// without a file.
func (s *Sink) Rotate() error {
	if s.rotate == nil {
		return nil
	}
	return s.rotate.Rotate()
}

// Close closes the log file, if any.
func (s *Sink) Close() error {
	if s.rotate == nil {
		return nil
	}
	return s.rotate.Close()
}
