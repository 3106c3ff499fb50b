// Package perrors implements the pipeline's error taxonomy. Errors
// never cross phase boundaries as exceptions: every phase classifies, counts,
// and decides (drop, retry, degrade) locally. Fatal is the one class that
// halts the pipeline, and only at startup.
package perrors

import (
	"errors"
	"fmt"
)

// Class is one of the five error categories the design defines.
type Class string

const (
	// Transient is a network or I/O error expected to recover; policy: retry
	// with backoff, count, continue.
	Transient Class = "transient"
	// Validation is malformed input (e.g. NaN strength, missing field);
	// policy: drop the offending item, increment a reason counter, never retry.
	Validation Class = "validation"
	// Contention is a per-symbol lock timeout; policy: yield IGNORE.
	Contention Class = "contention"
	// Deadline is a per-phase budget exceeded; policy: shed item, count.
	Deadline Class = "deadline"
	// Fatal is an unrecoverable structural error; policy: refuse to start.
	Fatal Class = "fatal"
)

// Classified wraps a cause with its taxonomy class and a short machine-readable
// reason code (used as a metrics label).
type Classified struct {
	Class  Class
	Reason string
	Cause  error
}

func (e *Classified) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s(%s): %v", e.Class, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s(%s)", e.Class, e.Reason)
}

func (e *Classified) Unwrap() error { return e.Cause }

// New constructs a Classified error.
func New(class Class, reason string, cause error) *Classified {
	return &Classified{Class: class, Reason: reason, Cause: cause}
}

// Is reports whether err is classified with the given class.
func Is(err error, class Class) bool {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class == class
	}
	return false
}

// ClassOf returns the class of err, or "" if err is not Classified.
func ClassOf(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class
	}
	return ""
}

// ReasonOf returns the reason code of err, or "" if err is not Classified.
func ReasonOf(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return Class(c.Reason)
	}
	return ""
}

func NewTransient(reason string, cause error) *Classified  { return New(Transient, reason, cause) }
func NewValidation(reason string, cause error) *Classified { return New(Validation, reason, cause) }
func NewContention(reason string, cause error) *Classified { return New(Contention, reason, cause) }
func NewDeadline(reason string, cause error) *Classified   { return New(Deadline, reason, cause) }
func NewFatal(reason string, cause error) *Classified      { return New(Fatal, reason, cause) }
