package runtime

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LogEntry is one ring-buffer slot, also the shape delivered to a
// logrus.Hook so tests can assert against recent log lines the same
// way a GUI log panel would (spec.md §4.7).
type LogEntry struct {
	ObjectID    string
	MessageCode string
	Args        []any
	Level       logrus.Level
}

// MemoryLog is a capped ring buffer of recent log entries, safe to
// append from both the event-loop thread and any kernel's IO thread.
type MemoryLog struct {
	mu      sync.Mutex
	entries []LogEntry
	cap     int
	next    int
	full    bool
}

const maxMemoryLogSize = 1_000_000

// NewMemoryLog builds a ring buffer bounded by size, clamped to
// maxMemoryLogSize per spec.md §4.7.
func NewMemoryLog(size int) *MemoryLog {
	if size <= 0 {
		size = 1000
	}
	if size > maxMemoryLogSize {
		size = maxMemoryLogSize
	}
	return &MemoryLog{entries: make([]LogEntry, size), cap: size}
}

func (m *MemoryLog) append(e LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.next] = e
	m.next = (m.next + 1) % m.cap
	if m.next == 0 {
		m.full = true
	}
}

// Recent returns up to n most-recent entries, oldest first.
func (m *MemoryLog) Recent(n int) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.next
	if m.full {
		total = m.cap
	}
	if n <= 0 || n > total {
		n = total
	}
	out := make([]LogEntry, 0, n)
	start := m.next - n
	for i := 0; i < n; i++ {
		idx := (start + i + m.cap) % m.cap
		out = append(out, m.entries[idx])
	}
	return out
}

// memoryHook feeds every logrus entry into a MemoryLog.
type memoryHook struct{ log *MemoryLog }

func (h *memoryHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *memoryHook) Fire(e *logrus.Entry) error {
	objectID, _ := e.Data["objectId"].(string)
	code, _ := e.Data["code"].(string)
	h.log.append(LogEntry{ObjectID: objectID, MessageCode: code, Level: e.Level})
	return nil
}

// Logger is the (objectId, messageCode, args…) adapter spec.md §4.7
// names, safe to call from any thread. It wraps a *logrus.Logger so
// log output follows the same leveled, structured-field conventions
// the rest of the pack's command-station client uses.
type Logger struct {
	base *logrus.Logger
	mem  *MemoryLog
}

// NewLogger builds a Logger around a fresh logrus.Logger, with a
// MemoryLog of the given size wired in as a hook.
func NewLogger(memorySize int) *Logger {
	base := logrus.New()
	mem := NewMemoryLog(memorySize)
	base.AddHook(&memoryHook{log: mem})
	return &Logger{base: base, mem: mem}
}

func (l *Logger) Memory() *MemoryLog { return l.mem }

func (l *Logger) entry(objectID, messageCode string) *logrus.Entry {
	return l.base.WithFields(logrus.Fields{"objectId": objectID, "code": messageCode})
}

// Debug/Info/Warn/Error log one message for objectID, tagged with a
// stable messageCode and free-form args appended to the message text
// the way the C++ source's log(id, messageCode, args…) does.
func (l *Logger) Debug(objectID, messageCode string, args ...any) {
	l.entry(objectID, messageCode).Debug(append([]any{messageCode}, args...)...)
}

func (l *Logger) Info(objectID, messageCode string, args ...any) {
	l.entry(objectID, messageCode).Info(append([]any{messageCode}, args...)...)
}

func (l *Logger) Warn(objectID, messageCode string, args ...any) {
	l.entry(objectID, messageCode).Warn(append([]any{messageCode}, args...)...)
}

func (l *Logger) Error(objectID, messageCode string, args ...any) {
	l.entry(objectID, messageCode).Error(append([]any{messageCode}, args...)...)
}
