package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry is a single captured log line.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// String renders the entry as `[LEVEL] msg k=v ...` with sorted keys.
func (e Entry) String() string {
	line := fmt.Sprintf("[%s] %s", e.Level, e.Message)
	if len(e.Fields) == 0 {
		return line
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Fields[k]))
	}
	return line + " " + strings.Join(parts, " ")
}

// Recorder captures log entries in memory. Loggers derived through With share
// the same backing slice.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  map[string]any
}

var _ Logger = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		mu:      &sync.Mutex{},
		entries: &[]Entry{},
		fields:  make(map[string]any),
	}
}

func (r *Recorder) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return r
	}
	next := &Recorder{
		mu:      r.mu,
		entries: r.entries,
		fields:  make(map[string]any, len(r.fields)+len(fields)),
	}
	for k, v := range r.fields {
		next.fields[k] = v
	}
	for _, f := range fields {
		next.fields[f.Key] = f.Value
	}
	return next
}

func (r *Recorder) Debug(msg string, fields ...Field) { r.log("DEBUG", msg, fields) }
func (r *Recorder) Info(msg string, fields ...Field)  { r.log("INFO", msg, fields) }
func (r *Recorder) Warn(msg string, fields ...Field)  { r.log("WARN", msg, fields) }
func (r *Recorder) Error(msg string, fields ...Field) { r.log("ERROR", msg, fields) }

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Count returns how many entries were logged at level.
func (r *Recorder) Count(level string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Contains reports whether any rendered entry contains s.
func (r *Recorder) Contains(s string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.String(), s) {
			return true
		}
	}
	return false
}

func (r *Recorder) log(level, msg string, fields []Field) {
	merged := make(map[string]any, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Message: msg, Fields: merged})
	r.mu.Unlock()
}
