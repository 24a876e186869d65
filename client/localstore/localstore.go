// Package localstore is the client-side write-ahead log (spec §4.6, §5):
// a single-writer sqlite database holding locally-captured passages, their
// outbound sync queue state, and a cache of opposite-checkpost passages
// pulled from the server.
package localstore

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/pkg/log"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*
var migrationFiles embed.FS

// SyncState is the closed set of SyncQueueEntry states (spec §4.6).
type SyncState string

const (
	SyncPending  SyncState = "pending"
	SyncInFlight SyncState = "in_flight"
	SyncSynced   SyncState = "synced"
	SyncFailed   SyncState = "failed"
)

const maxSyncAttempts = 5

// LocalPassage is a single locally-captured sighting, append-only once
// written.
type LocalPassage struct {
	ID             int64              `db:"id"`
	ClientID       string             `db:"client_id"`
	PlateNumber    string             `db:"plate_number"`
	PlateNumberRaw string             `db:"plate_number_raw"`
	VehicleType    domain.VehicleType `db:"vehicle_type"`
	CheckpostID    int64              `db:"checkpost_id"`
	SegmentID      int64              `db:"segment_id"`
	RecordedAt     time.Time          `db:"recorded_at"`
	RangerID       int64              `db:"ranger_id"`
	PhotoRef       string             `db:"photo_ref"`
	CreatedAt      time.Time          `db:"created_at"`
}

// SyncQueueEntry tracks one LocalPassage's outbound delivery state.
type SyncQueueEntry struct {
	ID              int64      `db:"id"`
	LocalPassageID  int64      `db:"local_passage_id"`
	State           SyncState  `db:"state"`
	Attempts        int        `db:"attempts"`
	LastAttemptAt   *time.Time `db:"last_attempt_at"`
	SMSSent         bool       `db:"sms_sent"`
	CreatedAt       time.Time  `db:"created_at"`
}

// CachedRemotePassage is a locally-cached copy of an opposite-checkpost
// passage pulled from the server (spec §4.9), used only by the local
// matcher's best-effort UI alerts.
type CachedRemotePassage struct {
	ID              int64     `db:"id"`
	RemotePassageID int64     `db:"remote_passage_id"`
	PlateNumber     string    `db:"plate_number"`
	VehicleType     domain.VehicleType `db:"vehicle_type"`
	CheckpostID     int64     `db:"checkpost_id"`
	SegmentID       int64     `db:"segment_id"`
	RecordedAt      time.Time `db:"recorded_at"`
	CachedAt        time.Time `db:"cached_at"`
}

// Store is the single-writer local database handle.
type Store struct {
	db *sqlx.DB
}

var registerDriverOnce sync.Once

func Open(path string) (*Store, error) {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3LocalStore", &sqlite3.SQLiteDriver{})
	})
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sqlx.Open("sqlite3LocalStore", fmt.Sprintf("%s%s_foreign_keys=on", path, sep))
	if err != nil {
		return nil, fmt.Errorf("localstore: opening %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateLocal(db.DB); err != nil {
		return nil, fmt.Errorf("localstore: migrating: %w", err)
	}

	log.Infof("localstore: opened %s", path)
	return &Store{db: db}, nil
}

func migrateLocal(db *sql.DB) error {
	driver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPassage persists a new LocalPassage and its initial pending
// SyncQueueEntry in one transaction: the two rows must never exist
// independently of each other (spec §4.6 "each local Passage has exactly
// one SyncQueueEntry").
func (s *Store) RecordPassage(p *LocalPassage) (int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(
		`INSERT INTO local_passage (client_id, plate_number, plate_number_raw, vehicle_type,
			checkpost_id, segment_id, recorded_at, ranger_id, photo_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ClientID, p.PlateNumber, nullIfEmpty(p.PlateNumberRaw), p.VehicleType,
		p.CheckpostID, p.SegmentID, p.RecordedAt, p.RangerID, nullIfEmpty(p.PhotoRef), now,
	)
	if err != nil {
		return 0, fmt.Errorf("localstore: inserting local passage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(
		`INSERT INTO sync_queue_entry (local_passage_id, state, created_at) VALUES (?, ?, ?)`,
		id, SyncPending, now,
	); err != nil {
		return 0, fmt.Errorf("localstore: inserting sync queue entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	p.ID = id
	p.CreatedAt = now
	return id, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ReviveCrashedInFlight reverts any entry left in_flight by a crash back
// to pending, per the picker invariant in spec §4.6.
func (s *Store) ReviveCrashedInFlight() (int, error) {
	res, err := s.db.Exec(`UPDATE sync_queue_entry SET state = ? WHERE state = ?`, SyncPending, SyncInFlight)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// NextPending claims the oldest pending entry FIFO and moves it to
// in_flight, returning it with its LocalPassage. Returns sql.ErrNoRows if
// the queue is empty.
func (s *Store) NextPending() (*SyncQueueEntry, *LocalPassage, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var entry SyncQueueEntry
	if err := tx.Get(&entry, `
		SELECT id, local_passage_id, state, attempts, last_attempt_at, sms_sent, created_at
		FROM sync_queue_entry WHERE state = ? ORDER BY created_at ASC LIMIT 1`, SyncPending); err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(`UPDATE sync_queue_entry SET state = ? WHERE id = ?`, SyncInFlight, entry.ID); err != nil {
		return nil, nil, err
	}

	var passage LocalPassage
	if err := tx.Get(&passage, `
		SELECT id, client_id, plate_number, plate_number_raw, vehicle_type, checkpost_id,
		       segment_id, recorded_at, ranger_id, photo_ref, created_at
		FROM local_passage WHERE id = ?`, entry.LocalPassageID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	entry.State = SyncInFlight
	return &entry, &passage, nil
}

// MarkSynced transitions an entry to synced on either Created or
// Duplicate response (spec §4.6: both are success-equivalent).
func (s *Store) MarkSynced(entryID int64) error {
	_, err := s.db.Exec(`UPDATE sync_queue_entry SET state = ? WHERE id = ?`, SyncSynced, entryID)
	return err
}

// MarkRetry increments attempts and returns the entry to pending, or to
// failed once attempts reach maxSyncAttempts (spec §4.6). The limit is the
// package constant (5); the maxSyncAttempts config key is not read here.
func (s *Store) MarkRetry(entryID int64) (failed bool, err error) {
	now := time.Now().UTC()
	if _, err := s.db.Exec(
		`UPDATE sync_queue_entry SET attempts = attempts + 1, last_attempt_at = ? WHERE id = ?`,
		now, entryID,
	); err != nil {
		return false, err
	}

	var attempts int
	if err := s.db.Get(&attempts, `SELECT attempts FROM sync_queue_entry WHERE id = ?`, entryID); err != nil {
		return false, err
	}

	nextState := SyncPending
	if attempts >= maxSyncAttempts {
		nextState = SyncFailed
		failed = true
	}
	if _, err := s.db.Exec(`UPDATE sync_queue_entry SET state = ? WHERE id = ?`, nextState, entryID); err != nil {
		return false, err
	}
	return failed, nil
}

// MarkSMSSent records that the fallback SMS channel was used for an entry
// (spec §4.7), so it is only ever attempted once.
func (s *Store) MarkSMSSent(entryID int64) error {
	_, err := s.db.Exec(`UPDATE sync_queue_entry SET sms_sent = 1 WHERE id = ?`, entryID)
	return err
}

// FallbackEligible returns pending/failed entries older than cutoff that
// have not yet triggered an SMS send (spec §4.7 condition (b) and (c)).
func (s *Store) FallbackEligible(cutoff time.Time) ([]*SyncQueueEntry, error) {
	var entries []*SyncQueueEntry
	err := s.db.Select(&entries, `
		SELECT id, local_passage_id, state, attempts, last_attempt_at, sms_sent, created_at
		FROM sync_queue_entry
		WHERE state IN (?, ?) AND sms_sent = 0 AND created_at < ?
		ORDER BY created_at ASC`, SyncPending, SyncFailed, cutoff)
	return entries, err
}

func (s *Store) GetLocalPassage(id int64) (*LocalPassage, error) {
	var p LocalPassage
	err := s.db.Get(&p, `
		SELECT id, client_id, plate_number, plate_number_raw, vehicle_type, checkpost_id,
		       segment_id, recorded_at, ranger_id, photo_ref, created_at
		FROM local_passage WHERE id = ?`, id)
	return &p, err
}

// UpsertCachedRemotePassages replaces the cache with the given pulled
// passages. A remote_passage_id already present is refreshed in place.
func (s *Store) UpsertCachedRemotePassages(passages []CachedRemotePassage) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, p := range passages {
		if _, err := tx.Exec(`
			INSERT INTO cached_remote_passage (remote_passage_id, plate_number, vehicle_type, checkpost_id, segment_id, recorded_at, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(remote_passage_id) DO UPDATE SET
				plate_number = excluded.plate_number, vehicle_type = excluded.vehicle_type,
				checkpost_id = excluded.checkpost_id, segment_id = excluded.segment_id,
				recorded_at = excluded.recorded_at, cached_at = excluded.cached_at`,
			p.RemotePassageID, p.PlateNumber, p.VehicleType, p.CheckpostID, p.SegmentID, p.RecordedAt, now,
		); err != nil {
			return fmt.Errorf("localstore: upserting cached remote passage %d: %w", p.RemotePassageID, err)
		}
	}
	return tx.Commit()
}

// FindOppositeCandidate looks for a cached remote passage matching plate
// and segment but a different checkpost, for the local matcher (spec
// §4.8).
func (s *Store) FindOppositeCandidate(plateNumber string, segmentID, myCheckpostID int64) (*CachedRemotePassage, error) {
	var c CachedRemotePassage
	err := s.db.Get(&c, `
		SELECT id, remote_passage_id, plate_number, vehicle_type, checkpost_id, segment_id, recorded_at, cached_at
		FROM cached_remote_passage
		WHERE plate_number = ? AND segment_id = ? AND checkpost_id != ?
		ORDER BY recorded_at DESC LIMIT 1`, plateNumber, segmentID, myCheckpostID)
	if err == sql.ErrNoRows {
		return nil, err
	}
	return &c, err
}
