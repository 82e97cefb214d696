package plan

import (
	"errors"
	"sync"
	"time"

	"github.com/vyvo/worldsmith/pkg/command"
)

// ErrRequestNotFound is returned when a request id is unknown, already
// consumed, or was never issued by this process.
var ErrRequestNotFound = errors.New("build request not found")

// Tracker holds in-flight build requests between generation and
// confirmation. Entries are consumed exactly once by Take; a request the
// requester never confirms stays resident until the process exits.
type Tracker struct {
	mu     sync.Mutex
	nextID uint64
	items  map[uint64]BuildRequest
}

func NewTracker() *Tracker {
	return &Tracker{items: make(map[uint64]BuildRequest)}
}

// Begin allocates a strictly increasing request id and stores the tuple.
func (t *Tracker) Begin(requester, requesterUID string, origin command.Point3, dimension string, extent int, requirements string) BuildRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	req := BuildRequest{
		ID:           t.nextID,
		Requester:    requester,
		RequesterUID: requesterUID,
		Origin:       origin,
		Dimension:    dimension,
		Extent:       extent,
		Requirements: requirements,
		CreatedAt:    time.Now().UTC(),
	}
	t.items[req.ID] = req
	return req
}

// Take removes and returns the entry atomically. A second Take for the
// same id fails with ErrRequestNotFound.
func (t *Tracker) Take(id uint64) (BuildRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.items[id]
	if !ok {
		return BuildRequest{}, ErrRequestNotFound
	}
	delete(t.items, id)
	return req, nil
}

// Get returns the entry without consuming it.
func (t *Tracker) Get(id uint64) (BuildRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.items[id]
	if !ok {
		return BuildRequest{}, ErrRequestNotFound
	}
	return req, nil
}

// Len reports how many requests are still awaiting confirmation.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
