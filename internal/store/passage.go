package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var passageColumns = []string{
	"id", "client_id", "plate_number", "plate_number_raw", "vehicle_type",
	"checkpost_id", "segment_id", "recorded_at", "server_received_at",
	"ranger_id", "source", "matched_passage_id", "is_entry", "photo_ref",
}

func scanPassage(row interface{ Scan(...interface{}) error }) (*domain.Passage, error) {
	p := &domain.Passage{}
	var plateRaw, photoRef sql.NullString
	var matchedID sql.NullInt64
	var isEntry sql.NullBool

	if err := row.Scan(
		&p.ID, &p.ClientID, &p.PlateNumber, &plateRaw, &p.VehicleType,
		&p.CheckpostID, &p.SegmentID, &p.RecordedAt, &p.ServerReceivedAt,
		&p.RangerID, &p.Source, &matchedID, &isEntry, &photoRef,
	); err != nil {
		return nil, err
	}

	p.PlateNumberRaw = plateRaw.String
	p.PhotoRef = photoRef.String
	if matchedID.Valid {
		v := matchedID.Int64
		p.MatchedPassageID = &v
	}
	if isEntry.Valid {
		v := isEntry.Bool
		p.IsEntry = &v
	}
	return p, nil
}

// InsertPassage is the one write path every Passage goes through,
// regardless of source (spec §4.2). It enforces client_id uniqueness,
// and on success synchronously runs the matcher in the same transaction:
// if matching fails, the whole insert rolls back and the passage is not
// persisted (spec §4.3 failure semantics), so a retrying caller with the
// same client_id finds no prior record and can simply resubmit.
func (s *Store) InsertPassage(p *domain.Passage) (domain.InsertOutcome, int64, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	if p.ServerReceivedAt.IsZero() {
		p.ServerReceivedAt = time.Now().UTC()
	}

	res, err := tx.Exec(
		`INSERT INTO passage (client_id, plate_number, plate_number_raw, vehicle_type,
			checkpost_id, segment_id, recorded_at, server_received_at, ranger_id, source, photo_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ClientID, p.PlateNumber, nullIfEmpty(p.PlateNumberRaw), p.VehicleType,
		p.CheckpostID, p.SegmentID, p.RecordedAt, p.ServerReceivedAt, p.RangerID, p.Source, nullIfEmpty(p.PhotoRef),
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := s.getPassageByClientIDTx(tx, p.ClientID)
			if ferr != nil {
				return 0, 0, ferr
			}
			if cerr := tx.Commit(); cerr != nil {
				return 0, 0, cerr
			}
			metrics.PassagesIngested.WithLabelValues(string(p.Source), "duplicate").Inc()
			return domain.Duplicate, existing.ID, nil
		}
		return 0, 0, fmt.Errorf("store: inserting passage: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("store: reading inserted passage id: %w", err)
	}
	p.ID = id

	if err := matchNewPassage(tx, s.driver, p); err != nil {
		return 0, 0, fmt.Errorf("store: matching new passage %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	metrics.PassagesIngested.WithLabelValues(string(p.Source), "created").Inc()
	return domain.Created, id, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (s *Store) GetPassage(id int64) (*domain.Passage, error) {
	row := sq.Select(passageColumns...).From("passage").Where(sq.Eq{"id": id}).RunWith(s.db).QueryRow()
	p, err := scanPassage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("passage %d: %w", id, domain.ErrNotFound)
	}
	return p, err
}

func (s *Store) GetPassageByClientID(clientID string) (*domain.Passage, error) {
	row := sq.Select(passageColumns...).From("passage").Where(sq.Eq{"client_id": clientID}).RunWith(s.db).QueryRow()
	p, err := scanPassage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("passage with client_id %q: %w", clientID, domain.ErrNotFound)
	}
	return p, err
}

func (s *Store) getPassageByClientIDTx(tx *sqlx.Tx, clientID string) (*domain.Passage, error) {
	row := sq.Select(passageColumns...).From("passage").Where(sq.Eq{"client_id": clientID}).RunWith(tx).QueryRow()
	return scanPassage(row)
}

// ListUnmatchedOpposite is the inbound-pull query (spec §4.2, §4.9):
// unmatched passages on segmentID recorded at or after cutoff, at any
// checkpost other than myCheckpostID, newest first, capped at limit.
func (s *Store) ListUnmatchedOpposite(segmentID, myCheckpostID int64, cutoff time.Time, limit int) ([]*domain.Passage, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := sq.Select(passageColumns...).From("passage").
		Where(sq.Eq{"segment_id": segmentID}).
		Where(sq.NotEq{"checkpost_id": myCheckpostID}).
		Where("matched_passage_id IS NULL").
		Where(sq.GtOrEq{"recorded_at": cutoff}).
		OrderBy("recorded_at DESC").
		Limit(uint64(limit)).
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Passage
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
