// Package channelz provides the minimal subset of gRPC's channelz
// introspection surface that the client channel needs: a per-entity trace
// event ring buffer and a leveled, prefixed logger, matching the
// grpclog.PrefixLogger / channelz.Infof-Warningf-Errorf calls used
// throughout the teacher's balancer and resolver code.
package channelz

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Severity of a trace event or log line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// TraceEvent is one entry in a Channel's trace log (spec.md §6
// Observability: channel state transitions, subchannel add/remove,
// resolution events, service-config parse errors).
type TraceEvent struct {
	Time     time.Time
	Severity Severity
	Desc     string
}

// Channel is a node in the channelz tree: it accumulates trace events for
// one ClientChannel or Subchannel and exposes them for read-only
// introspection (e.g. by tests).
type Channel struct {
	ID   int64
	Name string

	mu     sync.Mutex
	events []TraceEvent
	cap    int
}

var (
	nextID int64
	idMu   sync.Mutex
)

func newID() int64 {
	idMu.Lock()
	defer idMu.Unlock()
	nextID++
	return nextID
}

// NewChannel creates a new channelz node, ring-buffering up to maxEvents
// trace events (0 means unbounded).
func NewChannel(name string, maxEvents int) *Channel {
	return &Channel{ID: newID(), Name: name, cap: maxEvents}
}

// AddTraceEvent appends a trace event, trimming the oldest entry if the
// node's capacity is exceeded.
func (c *Channel) AddTraceEvent(sev Severity, desc string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, TraceEvent{Time: time.Now(), Severity: sev, Desc: desc})
	if c.cap > 0 && len(c.events) > c.cap {
		c.events = c.events[len(c.events)-c.cap:]
	}
}

// Trace returns a snapshot of the node's trace events, oldest first.
func (c *Channel) Trace() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Logger is the leveled logging sink every control-plane component
// accepts. PrefixLogger below is the concrete implementation used by
// default; tests can substitute their own.
type Logger interface {
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
}

// PrefixLogger prefixes every log line with a caller-chosen tag (e.g.
// "clientchannel"), as the teacher's grpclog.PrefixLogger does, and
// mirrors warnings and errors (not info lines) into the owning channelz
// Channel's trace log when one is attached.
type PrefixLogger struct {
	prefix  string
	channel *Channel
}

// NewPrefixLogger returns a PrefixLogger that tags every line with prefix
// and, if ch is non-nil, also records warnings and errors as trace events
// on ch.
func NewPrefixLogger(prefix string, ch *Channel) *PrefixLogger {
	return &PrefixLogger{prefix: prefix, channel: ch}
}

func (l *PrefixLogger) Infof(format string, args ...any) {
	l.logf(SeverityInfo, format, args...)
}

func (l *PrefixLogger) Warningf(format string, args ...any) {
	l.logf(SeverityWarning, format, args...)
}

func (l *PrefixLogger) Errorf(format string, args ...any) {
	l.logf(SeverityError, format, args...)
}

func (l *PrefixLogger) logf(sev Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	line := msg
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, msg)
	}
	log.Printf("%-7s %s", sev, line)
	if l.channel != nil && sev != SeverityInfo {
		l.channel.AddTraceEvent(sev, msg)
	}
}

// Infof logs an info-level line through l (a nil l is ignored), mirroring
// the package level channelz.Infof helper the balancer wrapper uses.
func Infof(l Logger, format string, args ...any) {
	if l != nil {
		l.Infof(format, args...)
	}
}

// Warningf logs a warning-level trace event.
func Warningf(l Logger, format string, args ...any) {
	if l != nil {
		l.Warningf(format, args...)
	}
}

// Errorf logs an error-level trace event.
func Errorf(l Logger, format string, args ...any) {
	if l != nil {
		l.Errorf(format, args...)
	}
}
