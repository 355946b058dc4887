package extract

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDuplicateID is returned by Put when a segment with the same ID is
// already stored.
var ErrDuplicateID = errors.New("extract: duplicate segment id")

// Segment is one extracted window, encoded as WAV and addressable by ID.
type Segment struct {
	// ID is a random UUID.
	ID string `json:"id"`

	// URL is the path under which the segment is served.
	URL string `json:"url"`

	// StartMs and EndMs are the bounds the caller asked for, measured from
	// the start of recording. EndMs is filled in when the caller asked for
	// "until now".
	StartMs float64 `json:"start_ms"`
	EndMs   float64 `json:"end_ms"`

	// DurationMs is the length of the audio actually returned after
	// clamping.
	DurationMs float64 `json:"duration_ms"`

	// Codec names the slot codec the audio went through.
	Codec string `json:"codec"`

	// WAV holds the encoded container.
	WAV []byte `json:"-"`

	// CreatedAt is when extraction finished.
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps produced segments until they are revoked.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put adds s. It returns [ErrDuplicateID] if s.ID is already present.
	Put(s *Segment) error

	// Get returns the segment with id.
	Get(id string) (*Segment, bool)

	// Revoke removes id and reports whether it was present.
	Revoke(id string) bool

	// Len returns the number of stored segments.
	Len() int
}

// DefaultMaxRetained is the capacity of a MemoryStore created with a
// non-positive limit.
const DefaultMaxRetained = 256

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a bounded in-memory [Store]. When full, Put evicts the
// oldest segment.
type MemoryStore struct {
	mu    sync.RWMutex
	max   int
	order *list.List // of *Segment, oldest first
	byID  map[string]*list.Element
}

// NewMemoryStore returns a store that keeps at most maxRetained segments.
func NewMemoryStore(maxRetained int) *MemoryStore {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &MemoryStore{
		max:   maxRetained,
		order: list.New(),
		byID:  make(map[string]*list.Element),
	}
}

// Put implements [Store.Put].
func (m *MemoryStore) Put(s *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[s.ID]; exists {
		return ErrDuplicateID
	}
	for m.order.Len() >= m.max {
		oldest := m.order.Front()
		m.order.Remove(oldest)
		delete(m.byID, oldest.Value.(*Segment).ID)
	}
	m.byID[s.ID] = m.order.PushBack(s)
	return nil
}

// Get implements [Store.Get].
func (m *MemoryStore) Get(id string) (*Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	el, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*Segment), true
}

// Revoke implements [Store.Revoke].
func (m *MemoryStore) Revoke(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.byID[id]
	if !ok {
		return false
	}
	m.order.Remove(el)
	delete(m.byID, id)
	return true
}

// Len implements [Store.Len].
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.order.Len()
}
