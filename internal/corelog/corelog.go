// Package corelog is the thin, non-blocking logger the hard-real-time
// core writes state transitions and fatal messages through. It keeps
// the bracketed-tag convention the rest of the repo uses
// ("[engine] RUN") without letting a slow writer (stdout redirected to
// a pipe, a serial console) stall the engine task.
package corelog

import (
	"fmt"
	"log"
	"strings"
)

// Logger writes tagged, rate-unlimited lines to the standard logger on
// a buffered channel drained by a dedicated goroutine, so a caller on
// the engine-task goroutine never blocks on I/O.
type Logger struct {
	tag string
	ch  chan string
}

// New starts a Logger tagged with tag (e.g. "engine", "trigger"). The
// buffer holds backlog lines if the underlying writer stalls; once
// full, further lines are dropped rather than blocking the caller.
func New(tag string) *Logger {
	l := &Logger{
		tag: tag,
		ch:  make(chan string, 64),
	}
	go l.drain()
	return l
}

func (l *Logger) drain() {
	for line := range l.ch {
		log.Printf("[%s] %s", l.tag, line)
	}
}

// Printf formats and enqueues a line. Non-blocking: if the buffer is
// full the line is silently dropped rather than stalling the caller.
func (l *Logger) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	select {
	case l.ch <- line:
	default:
	}
}

// Write lets a Logger stand in for an io.Writer (e.g. a trigger
// decoder's record sink), tagging each write the same as Printf.
func (l *Logger) Write(p []byte) (int, error) {
	l.Printf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Close stops the drain goroutine. Safe to call once; not safe to call
// concurrently with Printf.
func (l *Logger) Close() {
	close(l.ch)
}
