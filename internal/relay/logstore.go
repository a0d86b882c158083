package relay

import (
	"sort"
	"sync"
	"time"

	logx "oscrelay/pkg/logx"
)

const (
	DefaultLogCapacity = 100
	DefaultStatusTail  = 20
)

// Entry is one timestamped log line.
type Entry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// String renders the entry as "[HH:MM:SS] text".
func (e Entry) String() string {
	return "[" + e.At.Format("15:04:05") + "] " + e.Text
}

// ring is a fixed-capacity FIFO that overwrites its oldest entry when full.
type ring struct {
	buf  []Entry
	head int // index of the oldest entry
	n    int
}

func newRing(capacity int) *ring { return &ring{buf: make([]Entry, capacity)} }

func (r *ring) push(e Entry) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
}

// tail copies the newest n entries, oldest first.
func (r *ring) tail(n int) []Entry {
	if n < 0 || n > r.n {
		n = r.n
	}
	out := make([]Entry, n)
	start := r.head + r.n - n
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// LogStore keeps one bounded buffer per configuration plus a global buffer.
// Every append is mirrored to the structured logger.
type LogStore struct {
	mu       sync.Mutex
	capacity int
	global   *ring
	configs  map[string]*ring

	log logx.Logger
	now func() time.Time
}

// NewLogStore creates a store whose buffers hold capacity entries each.
func NewLogStore(capacity int, log logx.Logger) *LogStore {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogStore{
		capacity: capacity,
		global:   newRing(capacity),
		configs:  map[string]*ring{},
		log:      log.With(logx.String("comp", "relay")),
		now:      time.Now,
	}
}

// Capacity reports the per-buffer entry limit.
func (s *LogStore) Capacity() int { return s.capacity }

// Append records text in the buffer of configID, or the global buffer when
// configID is empty.
func (s *LogStore) Append(configID, text string) {
	s.mu.Lock()
	// Timestamp under the lock keeps buffer order chronological.
	e := Entry{At: s.now(), Text: text}
	r := s.global
	if configID != "" {
		r = s.configs[configID]
		if r == nil {
			r = newRing(s.capacity)
			s.configs[configID] = r
		}
	}
	r.push(e)
	s.mu.Unlock()

	if configID != "" {
		s.log.Info(text, logx.String("config", configID))
	} else {
		s.log.Info(text)
	}
}

// AppendGlobal records text in the global buffer.
func (s *LogStore) AppendGlobal(text string) { s.Append("", text) }

// Tail returns the newest n entries of configID, oldest first. n < 0 returns all.
func (s *LogStore) Tail(configID string, n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.configs[configID]
	if r == nil {
		return []Entry{}
	}
	return r.tail(n)
}

// GlobalTail returns the newest n global entries, oldest first.
func (s *LogStore) GlobalTail(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global.tail(n)
}

// Clear empties the buffer of configID only.
func (s *LogStore) Clear(configID string) {
	s.mu.Lock()
	if _, ok := s.configs[configID]; ok {
		s.configs[configID] = newRing(s.capacity)
	}
	s.mu.Unlock()
}

// ConfigIDs lists every configuration with a buffer, sorted.
func (s *LogStore) ConfigIDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// TailAll returns the newest n entries of every configuration buffer.
func (s *LogStore) TailAll(n int) map[string][]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Entry, len(s.configs))
	for id, r := range s.configs {
		out[id] = r.tail(n)
	}
	return out
}

// Strings renders entries with Entry.String.
func Strings(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}
