package events

import (
	"sync"

	"escrowd/core/types"
)

// payloadCarrier is implemented by events that carry a structured payload in
// addition to their type string.
type payloadCarrier interface {
	Event() *types.Event
}

// Entry is one immutable record in the event log. Sequence numbers start at 1
// and increase by one per appended event.
type Entry struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Log is an append-only event log. It satisfies Emitter so the engine can
// write to it directly, keeps every entry for sequential replay, and fans out
// live entries to subscribers (the websocket stream).
type Log struct {
	mu      sync.Mutex
	entries []Entry
	subs    map[uint64]chan Entry
	nextSub uint64
}

func NewLog() *Log {
	return &Log{subs: make(map[uint64]chan Entry)}
}

// Emit implements the Emitter interface.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	var payload *types.Event
	if carrier, ok := evt.(payloadCarrier); ok {
		payload = carrier.Event()
	}
	if payload == nil {
		payload = &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry := Entry{Sequence: uint64(len(l.entries)) + 1, Event: payload}
	l.entries = append(l.entries, entry)
	for _, ch := range l.subs {
		select {
		case ch <- entry:
		default:
			// Slow subscribers drop live entries; they can re-subscribe with a
			// cursor to recover from the replay path.
		}
	}
}

// Replay returns every entry with a sequence strictly greater than afterSeq,
// in append order.
func (l *Log) Replay(afterSeq uint64) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if afterSeq >= uint64(len(l.entries)) {
		return nil
	}
	backlog := make([]Entry, len(l.entries[afterSeq:]))
	copy(backlog, l.entries[afterSeq:])
	return backlog
}

// Len returns the number of entries appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Subscribe returns the backlog after the supplied cursor together with a
// channel of live entries and a cancel function. Cancel must be called to
// release the subscription.
func (l *Log) Subscribe(afterSeq uint64) ([]Entry, <-chan Entry, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var backlog []Entry
	if afterSeq < uint64(len(l.entries)) {
		backlog = make([]Entry, len(l.entries[afterSeq:]))
		copy(backlog, l.entries[afterSeq:])
	}
	id := l.nextSub
	l.nextSub++
	ch := make(chan Entry, 64)
	l.subs[id] = ch
	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existing, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(existing)
		}
	}
	return backlog, ch, cancel
}
