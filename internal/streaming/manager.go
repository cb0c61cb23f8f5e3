package streaming

import (
	"sync"
	"time"
)

// EventType labels a research progress event.
type EventType string

const (
	EventRunStarted         EventType = "RUN_STARTED"
	EventPlanProposed       EventType = "PLAN_PROPOSED"
	EventApprovalRequested  EventType = "APPROVAL_REQUESTED"
	EventApprovalDecision   EventType = "APPROVAL_DECISION"
	EventDocumentSummarized EventType = "DOCUMENT_SUMMARIZED"
	EventSectionStarted     EventType = "SECTION_STARTED"
	EventSectionSearching   EventType = "SECTION_SEARCHING"
	EventSectionGraded      EventType = "SECTION_GRADED"
	EventSectionCompleted   EventType = "SECTION_COMPLETED"
	EventReportCompiled     EventType = "REPORT_COMPILED"
	EventRunFailed          EventType = "RUN_FAILED"
)

// Event is one intermediate "thought" streamed to clients while a research
// run progresses.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Section   string    `json:"section,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Manager provides in-memory pub/sub for run events with a per-run ring
// buffer so late subscribers can replay recent history.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager with the given per-run replay capacity.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a run ID; the caller must drain it
// and call Unsubscribe when done.
func (m *Manager) Subscribe(runID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[runID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[runID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the subscriber channel.
func (m *Manager) Unsubscribe(runID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[runID]; ok {
		if _, present := subs[ch]; present {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, runID)
		}
	}
}

// Publish assigns a sequence number, records the event for replay and
// delivers it to all subscribers without blocking; slow subscribers drop.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	rg := m.history[evt.RunID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.RunID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[evt.RunID]
	chans := make([]chan Event, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	m.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Replay returns buffered events for a run with Seq > afterSeq, in order.
func (m *Manager) Replay(runID string, afterSeq uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[runID]
	if rg == nil {
		return nil
	}
	return rg.after(afterSeq)
}

// Forget drops the replay history for a finished run.
func (m *Manager) Forget(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, runID)
}

// ring is a fixed-capacity event buffer.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(evt Event) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = evt
		r.count++
		return
	}
	r.buf[r.start] = evt
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) after(afterSeq uint64) []Event {
	var out []Event
	for i := 0; i < r.count; i++ {
		evt := r.buf[(r.start+i)%len(r.buf)]
		if evt.Seq > afterSeq {
			out = append(out, evt)
		}
	}
	return out
}
