// Package reporter implements the bounded diagnostic log kept for one execution.
//
// A Reporter is written by every pipeline stage and read once the execution
// has finished. It is not safe for concurrent use; each execution owns its
// own instance.
package reporter

import (
	"fmt"
	"unicode/utf8"
)

// DefaultMaxSize bounds the rendered report to 1 GiB.
const DefaultMaxSize = 1 << 30

// Reporter is an append-only log with a bounded rendering.
//
// Content is stored in a head segment that grows up to the maximum size.
// Once the head is full, further writes go to a tail segment that keeps
// only the most recent bytes. The rendering elides the middle with a
// "[TRUNCATED n CHARACTERS]" marker.
type Reporter struct {
	head    string
	tail    string
	maxSize int

	// totalRunes counts every character ever appended, kept or not.
	totalRunes int
	truncated  bool
}

// New creates a Reporter whose rendering never exceeds maxSize bytes.
// A non-positive maxSize selects DefaultMaxSize.
func New(maxSize int) *Reporter {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Reporter{maxSize: maxSize}
}

// WriteString appends s to the report. It never fails.
func (r *Reporter) WriteString(s string) (int, error) {
	r.totalRunes += utf8.RuneCountInString(s)

	rest := s
	if room := r.maxSize - len(r.head); room > 0 && !r.truncated {
		kept := prefix(s, room)
		r.head += kept
		rest = s[len(kept):]
	}
	if rest == "" {
		return len(s), nil
	}

	r.truncated = true
	tailCap := r.maxSize / 2
	if len(rest) >= tailCap {
		r.tail = suffix(rest, tailCap)
	} else {
		r.tail = suffix(r.tail+rest, tailCap)
	}
	return len(s), nil
}

// Write implements io.Writer so process output can be streamed in.
func (r *Reporter) Write(p []byte) (int, error) {
	return r.WriteString(string(p))
}

// Printf appends a formatted line fragment.
func (r *Reporter) Printf(format string, args ...any) {
	_, _ = r.WriteString(fmt.Sprintf(format, args...))
}

// Report returns the head segment without any truncation marker.
//
// Once truncation has begun the tail segment is not part of this value;
// ReportTruncated is the only accessor that surfaces it.
func (r *Reporter) Report() string {
	return r.head
}

// Truncated reports whether any content has been elided.
func (r *Reporter) Truncated() bool {
	return r.truncated
}

// ReportTruncated renders the report within the configured maximum size.
func (r *Reporter) ReportTruncated() string {
	if !r.truncated {
		return r.head
	}

	// The elided count can only be smaller than totalRunes, so reserving room
	// for that marker keeps the rendering within maxSize.
	budget := r.maxSize - len(marker(r.totalRunes))
	if budget <= 0 {
		return prefix(marker(r.totalRunes), r.maxSize)
	}

	tail := suffix(r.tail, budget/2)
	head := prefix(r.head, budget-len(tail))
	elided := r.totalRunes - utf8.RuneCountInString(head) - utf8.RuneCountInString(tail)

	return head + marker(elided) + tail
}

// String implements fmt.Stringer with the bounded rendering.
func (r *Reporter) String() string {
	return r.ReportTruncated()
}

func marker(n int) string {
	return fmt.Sprintf(" [TRUNCATED %d CHARACTERS] ", n)
}

// prefix returns the longest prefix of s that is at most n bytes and does
// not split a UTF-8 sequence.
func prefix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// suffix returns the longest suffix of s that is at most n bytes and does
// not split a UTF-8 sequence.
func suffix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	if n <= 0 {
		return ""
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
