package plan

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore persists build records and events to Postgres. It is a
// write-behind mirror of the in-memory store: control decisions are
// never made from rows read back here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(conn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", conn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS build_records (
    id BIGINT PRIMARY KEY,
    requester TEXT NOT NULL,
    requester_uid TEXT NOT NULL,
    origin_x INT NOT NULL,
    origin_y INT NOT NULL,
    origin_z INT NOT NULL,
    dimension TEXT NOT NULL,
    extent INT NOT NULL,
    requirements TEXT NOT NULL,
    estimated_cost BIGINT NOT NULL,
    actual_cost BIGINT NOT NULL,
    commands TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS build_events (
    id TEXT PRIMARY KEY,
    record_id BIGINT NOT NULL REFERENCES build_records(id) ON DELETE CASCADE,
    kind TEXT NOT NULL,
    done INT NOT NULL,
    total INT NOT NULL,
    message TEXT,
    created_at TIMESTAMPTZ NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgresStore) Create(record BuildRecord) error {
	query := `INSERT INTO build_records (id, requester, requester_uid, origin_x, origin_y, origin_z, dimension, extent, requirements, estimated_cost, actual_cost, commands, status, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (id) DO UPDATE SET
    requester = EXCLUDED.requester,
    requester_uid = EXCLUDED.requester_uid,
    origin_x = EXCLUDED.origin_x,
    origin_y = EXCLUDED.origin_y,
    origin_z = EXCLUDED.origin_z,
    dimension = EXCLUDED.dimension,
    extent = EXCLUDED.extent,
    requirements = EXCLUDED.requirements,
    estimated_cost = EXCLUDED.estimated_cost,
    actual_cost = EXCLUDED.actual_cost,
    commands = EXCLUDED.commands,
    status = EXCLUDED.status,
    completed_at = EXCLUDED.completed_at`
	_, err := s.db.Exec(query,
		int64(record.ID),
		record.Requester,
		record.RequesterUID,
		record.Origin.X,
		record.Origin.Y,
		record.Origin.Z,
		record.Dimension,
		record.Extent,
		record.Requirements,
		record.EstimatedCost,
		record.ActualCost,
		strings.Join(record.Commands, "\n"),
		record.Status,
		record.CreatedAt,
		record.CompletedAt,
	)
	return err
}

func (s *PostgresStore) UpdateStatus(id uint64, status Status, completedAt *time.Time) error {
	query := `UPDATE build_records SET status=$1, completed_at=$2 WHERE id=$3`
	_, err := s.db.Exec(query, status, completedAt, int64(id))
	return err
}

func (s *PostgresStore) Delete(id uint64) error {
	_, err := s.db.Exec(`DELETE FROM build_records WHERE id=$1`, int64(id))
	return err
}

func (s *PostgresStore) AppendEvent(event BuildEvent) error {
	_, err := s.db.Exec(`INSERT INTO build_events (id, record_id, kind, done, total, message, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.ID, int64(event.RecordID), event.Kind, event.Done, event.Total, event.Message, event.At)
	return err
}

func (s *PostgresStore) List() ([]BuildRecord, error) {
	rows, err := s.db.Query(`SELECT id, requester, requester_uid, origin_x, origin_y, origin_z, dimension, extent, requirements, estimated_cost, actual_cost, commands, status, created_at, completed_at FROM build_records ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []BuildRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Get(id uint64) (BuildRecord, error) {
	query := `SELECT id, requester, requester_uid, origin_x, origin_y, origin_z, dimension, extent, requirements, estimated_cost, actual_cost, commands, status, created_at, completed_at FROM build_records WHERE id=$1`
	row := s.db.QueryRow(query, int64(id))
	return scanRecord(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (BuildRecord, error) {
	var record BuildRecord
	var id int64
	var commands string
	var completedAt sql.NullTime
	err := row.Scan(&id, &record.Requester, &record.RequesterUID,
		&record.Origin.X, &record.Origin.Y, &record.Origin.Z,
		&record.Dimension, &record.Extent, &record.Requirements,
		&record.EstimatedCost, &record.ActualCost,
		&commands, &record.Status, &record.CreatedAt, &completedAt)
	if err != nil {
		return BuildRecord{}, err
	}
	record.ID = uint64(id)
	if commands != "" {
		record.Commands = strings.Split(commands, "\n")
	}
	if completedAt.Valid {
		t := completedAt.Time
		record.CompletedAt = &t
	}
	return record, nil
}
