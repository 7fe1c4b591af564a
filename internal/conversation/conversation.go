// Package conversation holds the append-only chat log shown to the user.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender identifies who produced an entry.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// TimestampLayout matches the clock readout used by the message renderer.
const TimestampLayout = "3:04:05 PM"

// Entry is one immutable line of the conversation.
type Entry struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp string    `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`
}

// Log is an append-only, ordered sequence of entries.
// Entries are never removed or reordered.
type Log struct {
	mu      sync.RWMutex
	entries []Entry

	// deliver orders append handler calls to match log order.
	deliver sync.Mutex
	greeted bool
	now     func() time.Time

	onAppend func(Entry)
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// SetClock overrides the time source used for timestamps.
func (l *Log) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// SetAppendHandler registers a callback invoked after every append. Calls are
// serialized in log order; fn may read the log but must not append to it.
func (l *Log) SetAppendHandler(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onAppend = fn
}

// Append records content from sender and returns the stored entry.
func (l *Log) Append(content string, sender Sender) Entry {
	l.deliver.Lock()
	defer l.deliver.Unlock()

	l.mu.Lock()
	entry := l.appendLocked(content, sender)
	fn := l.onAppend
	l.mu.Unlock()

	if fn != nil {
		fn(entry)
	}
	return entry
}

// AppendUser records a user utterance.
func (l *Log) AppendUser(content string) Entry {
	return l.Append(content, SenderUser)
}

// AppendAssistant records an assistant reply.
func (l *Log) AppendAssistant(content string) Entry {
	return l.Append(content, SenderAssistant)
}

// AppendGreetingOnce appends the greeting as an assistant entry the first
// time it is called. Later calls return false and leave the log untouched.
func (l *Log) AppendGreetingOnce(content string) (Entry, bool) {
	l.deliver.Lock()
	defer l.deliver.Unlock()

	l.mu.Lock()
	if l.greeted {
		l.mu.Unlock()
		return Entry{}, false
	}
	l.greeted = true
	entry := l.appendLocked(content, SenderAssistant)
	fn := l.onAppend
	l.mu.Unlock()

	if fn != nil {
		fn(entry)
	}
	return entry, true
}

// Greeted reports whether the greeting has been appended.
func (l *Log) Greeted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.greeted
}

func (l *Log) appendLocked(content string, sender Sender) Entry {
	at := l.now()
	entry := Entry{
		ID:        newID(),
		Content:   content,
		Sender:    sender,
		Timestamp: at.Format(TimestampLayout),
		CreatedAt: at,
	}
	l.entries = append(l.entries, entry)
	return entry
}

// Entries returns a copy of the log in insertion order.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]Entry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the most recent entry, if any.
func (l *Log) Last() (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return Entry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// newID returns a time-ordered UUIDv7 so ids sort in append order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
