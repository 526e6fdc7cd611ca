// Package timeserver implements the line-oriented time protocol: a client
// sends "query system time" and receives the server's current time, any other
// line gets "bad query".
package timeserver

import (
	"strings"
	"time"
)

const (
	// Query is the only request the protocol understands (case-insensitive).
	Query = "query system time"
	// BadQuery is returned for every other request.
	BadQuery = "bad query"
	// TimeLayout formats answers.
	TimeLayout = time.UnixDate
)

// Answer returns the response line for one request line.
func Answer(query string, now time.Time) string {
	if IsQuery(query) {
		return now.Format(TimeLayout)
	}
	return BadQuery
}

// IsQuery reports whether line is a time query.
func IsQuery(line string) bool {
	return strings.EqualFold(strings.TrimSpace(line), Query)
}

// QueryRecorder counts answered queries. The prometheus Metrics type
// implements it.
type QueryRecorder interface {
	RecordQuery(transport string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordQuery(string, bool) {}
