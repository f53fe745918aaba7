package message

import (
	"encoding/json"
	"sync"
)

// Sink observes every log mutation. It is purely an observer: the log never
// consults its return value and correctness never depends on it being set.
type Sink func(msg Message)

// Log is the ordered, append-only record of one agent's conversation. Each
// agent instance owns its log exclusively; the mutex only protects against
// observers reading a snapshot while the owning call appends.
type Log struct {
	mu   sync.RWMutex
	msgs []Message
	sink Sink
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// SetSink installs the observer invoked after every append.
func (l *Log) SetSink(sink Sink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// Append inserts a deep copy of msg at the end of the log and notifies the
// sink. The log only grows; nothing ever removes or rewrites an entry.
func (l *Log) Append(msg Message) {
	cloned := Clone(msg)
	l.mu.Lock()
	l.msgs = append(l.msgs, cloned)
	sink := l.sink
	l.mu.Unlock()
	if sink != nil {
		sink(Clone(cloned))
	}
}

// All returns a deep-copied snapshot in insertion order.
func (l *Log) All() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return CloneAll(l.msgs)
}

// Len reports the number of messages recorded so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Last returns the most recent message, if any.
func (l *Log) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.msgs) == 0 {
		return Message{}, false
	}
	return Clone(l.msgs[len(l.msgs)-1]), true
}

// LastAssistantContent walks backwards for the newest non-empty assistant
// content; used to salvage a partial answer when a call is cut off.
func (l *Log) LastAssistantContent() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].Role == RoleAssistant && l.msgs[i].Content != "" {
			return l.msgs[i].Content
		}
	}
	return ""
}

// Snapshot serializes the full log so a later call can resume it.
func (l *Log) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.msgs)
}

// Restore replaces the log contents from a Snapshot payload. Intended for
// resuming between calls, never during one.
func (l *Log) Restore(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	l.mu.Lock()
	l.msgs = msgs
	l.mu.Unlock()
	return nil
}
