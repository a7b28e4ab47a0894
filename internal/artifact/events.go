package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hochfrequenz/claude-task-orchestrator/internal/domain"
)

const (
	defaultMaxLogBytes = 1 << 20
	defaultLogBackups  = 3
)

// EventLog appends lifecycle events as NDJSON lines. When the log
// exceeds maxBytes it is rotated, keeping a fixed number of backups.
type EventLog struct {
	path     string
	maxBytes int64
	backups  int

	mu        sync.Mutex
	file      *os.File
	size      int64
	listeners []func(domain.Event)
}

func NewEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	l := &EventLog{path: path, maxBytes: defaultMaxLogBytes, backups: defaultLogBackups}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *EventLog) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file = f
	l.size = info.Size()
	return nil
}

// Subscribe registers a callback invoked for every appended event.
// Callbacks run on the appender's goroutine but outside the log lock,
// so a slow callback delays its own append without serializing others.
func (l *EventLog) Subscribe(fn func(domain.Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append writes one event as a single NDJSON line
func (l *EventLog) Append(ev domain.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	if l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotate(); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	n, werr := l.file.Write(line)
	l.size += int64(n)
	listeners := l.listeners
	l.mu.Unlock()

	if werr != nil {
		return fmt.Errorf("appending event: %w", werr)
	}
	for _, fn := range listeners {
		fn(ev)
	}
	return nil
}

// rotate shifts log.1 -> log.2 -> ... and restarts the live file.
// Caller holds the lock.
func (l *EventLog) rotate() error {
	l.file.Close()

	os.Remove(fmt.Sprintf("%s.%d", l.path, l.backups))
	for i := l.backups - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", l.path, i), fmt.Sprintf("%s.%d", l.path, i+1))
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rotating event log: %w", err)
	}

	return l.open()
}

func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
