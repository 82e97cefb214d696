package plan

import (
	"log"

	"github.com/vyvo/worldsmith/pkg/command"
)

// Mirror pairs the authoritative in-memory store with an optional
// Postgres mirror. Reads always come from memory; writes are copied to
// Postgres best-effort and failures are logged, never surfaced.
type Mirror struct {
	mem *MemStore
	pg  *PostgresStore
}

// NewMirror wraps the memory store. pg may be nil, in which case the
// mirror is a passthrough.
func NewMirror(mem *MemStore, pg *PostgresStore) *Mirror {
	return &Mirror{mem: mem, pg: pg}
}

func (m *Mirror) Create(record BuildRecord, status Status) (BuildRecord, error) {
	created, err := m.mem.Create(record, status)
	if err != nil {
		return BuildRecord{}, err
	}
	if m.pg != nil {
		if err := m.pg.Create(created); err != nil {
			log.Printf("postgres mirror: create record %d: %v", created.ID, err)
		}
	}
	return created, nil
}

func (m *Mirror) SetStatus(id uint64, status Status) (BuildRecord, error) {
	record, err := m.mem.SetStatus(id, status)
	if err != nil {
		return BuildRecord{}, err
	}
	if m.pg != nil {
		if err := m.pg.UpdateStatus(id, status, record.CompletedAt); err != nil {
			log.Printf("postgres mirror: update record %d: %v", id, err)
		}
	}
	return record, nil
}

func (m *Mirror) Delete(id uint64) error {
	if err := m.mem.Delete(id); err != nil {
		return err
	}
	if m.pg != nil {
		if err := m.pg.Delete(id); err != nil {
			log.Printf("postgres mirror: delete record %d: %v", id, err)
		}
	}
	return nil
}

func (m *Mirror) AppendEvent(event BuildEvent) {
	m.mem.AppendEvent(event)
	if m.pg != nil {
		if err := m.pg.AppendEvent(event); err != nil {
			log.Printf("postgres mirror: append event for record %d: %v", event.RecordID, err)
		}
	}
}

func (m *Mirror) Get(id uint64) (BuildRecord, error) { return m.mem.Get(id) }

func (m *Mirror) Origin(id uint64) (command.Point3, bool) { return m.mem.Origin(id) }
func (m *Mirror) FindBuilding(requester string) (BuildRecord, bool) {
	return m.mem.FindBuilding(requester)
}

func (m *Mirror) ListPending(requester string) []BuildRecord { return m.mem.ListPending(requester) }

func (m *Mirror) List() []BuildRecord { return m.mem.List() }

func (m *Mirror) Events(id uint64) ([]BuildEvent, error) { return m.mem.Events(id) }

func (m *Mirror) Subscribe(id uint64) (<-chan BuildEvent, error) {
	return m.mem.Subscribe(id)
}
