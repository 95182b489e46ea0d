// Package tasks applies manual transitions (start, pause, finish...) to
// stored tasks.
//
// Every mutation is a read-modify-write guarded by the task's version: the
// fresh state is read, the pure timer transition runs against it with the
// current time, and the result is written only if nobody else wrote in
// between. A lost race re-reads and retries a few times before giving up
// with ErrConflict.
package tasks

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"pomotick/internal/storage"
	"pomotick/internal/timer"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	// Re-exported so callers need not import storage to test results.
	ErrNotFound = storage.ErrNotFound
	ErrConflict = storage.ErrConflict
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 20 * time.Millisecond
	DefaultStoreTimeout  = 5 * time.Second

	maxTitleLen = 200
)

// Config controls the manual transition service.
type Config struct {
	Defaults      timer.Defaults
	StoreTimeout  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// NewTask is the input of Create. Nil minutes mean "not set"; a task without
// PomodoroMinutes runs as one continuous focus session.
type NewTask struct {
	Title                string
	PomodoroMinutes      *int
	PomodoroBreakMinutes *int
	ExecutionTimeMinutes *int
}

func (n NewTask) validate() error {
	title := strings.TrimSpace(n.Title)
	if title == "" {
		return invalid("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return invalid("title is longer than 200 characters")
	}
	if n.PomodoroMinutes != nil && *n.PomodoroMinutes < 1 {
		return invalid("pomodoro minutes must be >= 1")
	}
	if n.PomodoroBreakMinutes != nil && *n.PomodoroBreakMinutes < 1 {
		return invalid("break minutes must be >= 1")
	}
	if n.PomodoroBreakMinutes != nil && n.PomodoroMinutes == nil {
		return invalid("break minutes need pomodoro minutes")
	}
	if n.ExecutionTimeMinutes != nil && *n.ExecutionTimeMinutes < 1 {
		return invalid("execution time must be >= 1 minute")
	}
	return nil
}

type inputError struct{ msg string }

func (e inputError) Error() string { return ErrInvalidInput.Error() + ": " + e.msg }
func (e inputError) Unwrap() error { return ErrInvalidInput }

func invalid(msg string) error { return inputError{msg: msg} }
