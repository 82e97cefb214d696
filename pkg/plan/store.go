package plan

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyvo/worldsmith/pkg/command"
)

// ErrRecordNotFound is returned for lookups of unknown record ids.
var ErrRecordNotFound = errors.New("build record not found")

// BuildEvent is one progress notification for a record, streamed to any
// subscriber watching the build.
type BuildEvent struct {
	ID       string    `json:"id"`
	RecordID uint64    `json:"record_id"`
	Kind     string    `json:"kind"`
	Done     int       `json:"done"`
	Total    int       `json:"total"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// NewBuildEvent stamps a fresh event for a record.
func NewBuildEvent(recordID uint64, kind string, done, total int, message string) BuildEvent {
	return BuildEvent{
		ID:       uuid.NewString(),
		RecordID: recordID,
		Kind:     kind,
		Done:     done,
		Total:    total,
		Message:  message,
		At:       time.Now().UTC(),
	}
}

type subscriber chan BuildEvent

type recordEntry struct {
	record      BuildRecord
	events      []BuildEvent
	subscribers []subscriber
}

// ListPendingCap bounds how many unconfirmed designs a requester can
// page through when resuming.
const ListPendingCap = 10

// MemStore keeps build records in memory and supports event
// subscriptions. Record ids increase monotonically and are never reused.
type MemStore struct {
	mu      sync.RWMutex
	nextID  uint64
	items   map[uint64]*recordEntry
	origins map[uint64]command.Point3
}

func NewMemStore() *MemStore {
	return &MemStore{
		items:   make(map[uint64]*recordEntry),
		origins: make(map[uint64]command.Point3),
	}
}

// Create allocates the next record id and stores the record with the
// given initial status. The origin is also kept in a side cache that is
// released once the record reaches a terminal status.
func (s *MemStore) Create(record BuildRecord, status Status) (BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.ID = s.nextID
	record.Status = status
	record.CreatedAt = time.Now().UTC()
	record.CompletedAt = nil
	s.items[record.ID] = &recordEntry{record: record}
	s.origins[record.ID] = record.Origin
	return record, nil
}

// SetStatus transitions a record. Terminal statuses stamp CompletedAt,
// release the cached origin, and close any subscribers.
func (s *MemStore) SetStatus(id uint64, status Status) (BuildRecord, error) {
	s.mu.Lock()

	entry, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return BuildRecord{}, ErrRecordNotFound
	}
	entry.record.Status = status
	if status.Terminal() {
		now := time.Now().UTC()
		entry.record.CompletedAt = &now
		delete(s.origins, id)
	}
	record := entry.record
	s.mu.Unlock()

	if status.Terminal() {
		s.CloseSubscribers(id)
	}
	return record, nil
}

func (s *MemStore) Get(id uint64) (BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[id]
	if !ok {
		return BuildRecord{}, ErrRecordNotFound
	}
	return entry.record, nil
}

// Origin returns the cached origin for a live record.
func (s *MemStore) Origin(id uint64) (command.Point3, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	origin, ok := s.origins[id]
	return origin, ok
}

// FindBuilding returns the requester's record currently in the building
// state, if any. Lookup is by requester name, not record id, so at most
// one build per requester should be in flight at a time.
func (s *MemStore) FindBuilding(requester string) (BuildRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, entry := range s.items {
		if entry.record.Requester == requester && entry.record.Status == StatusBuilding {
			return entry.record, true
		}
	}
	return BuildRecord{}, false
}

// ListPending returns the requester's pending records, newest first,
// capped at ListPendingCap.
func (s *MemStore) ListPending(requester string) []BuildRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []BuildRecord
	for _, entry := range s.items {
		if entry.record.Requester == requester && entry.record.Status == StatusPending {
			result = append(result, entry.record)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if len(result) > ListPendingCap {
		result = result[:ListPendingCap]
	}
	return result
}

// List returns every record, newest first.
func (s *MemStore) List() []BuildRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]BuildRecord, 0, len(s.items))
	for _, entry := range s.items {
		result = append(result, entry.record)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result
}

// Delete removes a record permanently. The freed id is never reused.
func (s *MemStore) Delete(id uint64) error {
	s.mu.Lock()

	entry, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	delete(s.items, id)
	delete(s.origins, id)
	subs := entry.subscribers
	entry.subscribers = nil
	s.mu.Unlock()

	for _, sub := range subs {
		close(sub)
	}
	return nil
}

// AppendEvent stores an event on the record and fans it out to
// subscribers.
func (s *MemStore) AppendEvent(event BuildEvent) {
	s.mu.Lock()
	entry, ok := s.items[event.RecordID]
	if !ok {
		s.mu.Unlock()
		return
	}
	entry.events = append(entry.events, event)
	s.mu.Unlock()

	s.Broadcast(event)
}

// Events returns the events recorded so far for a record.
func (s *MemStore) Events(id uint64) ([]BuildEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	events := make([]BuildEvent, len(entry.events))
	copy(events, entry.events)
	return events, nil
}

// Subscribe registers a watcher for a record's events. Past events are
// replayed into the channel before it is returned.
func (s *MemStore) Subscribe(id uint64) (<-chan BuildEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[id]
	if !ok {
		return nil, ErrRecordNotFound
	}

	// The buffer holds the full replay plus headroom for live events,
	// so replaying under the lock can never block.
	ch := make(subscriber, len(entry.events)+64)
	entry.subscribers = append(entry.subscribers, ch)
	for _, event := range entry.events {
		ch <- event
	}
	return ch, nil
}

func (s *MemStore) Broadcast(event BuildEvent) {
	s.mu.RLock()
	entry, ok := s.items[event.RecordID]
	if !ok {
		s.mu.RUnlock()
		return
	}
	subs := make([]subscriber, len(entry.subscribers))
	copy(subs, entry.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- event:
		default:
		}
	}
}

func (s *MemStore) CloseSubscribers(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[id]
	if !ok {
		return
	}
	for _, sub := range entry.subscribers {
		close(sub)
	}
	entry.subscribers = nil
}
