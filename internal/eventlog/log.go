// Package eventlog keeps the user-visible diagnostic log: a bounded list of
// connection, authentication, and repository events, newest last.
package eventlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claudeconnect/client/internal/logger"
	"github.com/claudeconnect/client/internal/storage"
)

// DefaultLimit caps the log when no limit is configured.
const DefaultLimit = 500

// Level is the entry severity.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Category groups entries for filtering.
type Category string

const (
	CategoryGeneral        Category = "general"
	CategoryConnection     Category = "connection"
	CategoryAuthentication Category = "authentication"
	CategoryRepository     Category = "repository"
)

// Entry is one diagnostic log line.
type Entry struct {
	ID       string
	Time     time.Time
	Level    Level
	Category Category
	Message  string
}

func (e Entry) String() string {
	return fmt.Sprintf("%s [%s/%s] %s", e.Time.Format("15:04:05"), e.Category, e.Level, e.Message)
}

// Sink persists entries. storage.SQLiteStore implements it.
type Sink interface {
	AppendLogEntry(rec storage.LogRecord, limit int) error
	ListLogEntries(limit int) ([]storage.LogRecord, error)
	ClearLogEntries() error
}

// Log is safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	limit   int
	sink    Sink
	now     func() time.Time
	log     zerolog.Logger
	onAdd   func(Entry)
}

// Options configures a Log.
type Options struct {
	Limit int
	// Sink mirrors entries to durable storage; optional.
	Sink Sink
	// OnAppend runs after each entry is added, outside the lock.
	OnAppend func(Entry)
	Now      func() time.Time
}

// New creates a log, reloading persisted entries from the sink if present.
func New(opts Options) *Log {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Log{
		limit: opts.Limit,
		sink:  opts.Sink,
		now:   opts.Now,
		log:   logger.Component("eventlog"),
		onAdd: opts.OnAppend,
	}
	if l.sink != nil {
		recs, err := l.sink.ListLogEntries(l.limit)
		if err != nil {
			l.log.Warn().Err(err).Msg("failed to reload diagnostic log")
		}
		for _, r := range recs {
			l.entries = append(l.entries, Entry{
				ID:       r.ID,
				Time:     r.CreatedAt,
				Level:    Level(r.Level),
				Category: Category(r.Category),
				Message:  r.Message,
			})
		}
	}
	return l
}

// Add appends an entry, discarding the oldest past the limit.
func (l *Log) Add(level Level, category Category, format string, args ...any) Entry {
	e := Entry{
		ID:       uuid.NewString(),
		Time:     l.now(),
		Level:    level,
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append([]Entry(nil), l.entries[over:]...)
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		rec := storage.LogRecord{
			ID:        e.ID,
			CreatedAt: e.Time,
			Level:     string(e.Level),
			Category:  string(e.Category),
			Message:   e.Message,
		}
		if err := sink.AppendLogEntry(rec, l.limit); err != nil {
			l.log.Warn().Err(err).Msg("failed to persist diagnostic log entry")
		}
	}
	if l.onAdd != nil {
		l.onAdd(e)
	}
	return e
}

// Info, Success, Warning, and Error are shorthands for Add.
func (l *Log) Info(c Category, format string, args ...any) Entry {
	return l.Add(LevelInfo, c, format, args...)
}

func (l *Log) Success(c Category, format string, args ...any) Entry {
	return l.Add(LevelSuccess, c, format, args...)
}

func (l *Log) Warning(c Category, format string, args ...any) Entry {
	return l.Add(LevelWarning, c, format, args...)
}

func (l *Log) Error(c Category, format string, args ...any) Entry {
	return l.Add(LevelError, c, format, args...)
}

// Entries returns a copy, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Filter returns entries of the given category, oldest first.
func (l *Log) Filter(c Category) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

// Clear empties the log and the sink.
func (l *Log) Clear() error {
	l.mu.Lock()
	l.entries = nil
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		return sink.ClearLogEntries()
	}
	return nil
}
