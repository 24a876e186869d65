package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	sq "github.com/Masterminds/squirrel"
)

const segmentCacheTTL = 5 * time.Minute

// GetSegment reads through refData: segment thresholds change only on
// rare admin edits, so caching them for a few minutes trades a little
// staleness for fewer round trips. The matcher does not call it; it reads
// the segment row inside its own transaction.
func (s *Store) GetSegment(id int64) (domain.Segment, error) {
	key := "segment:" + strconv.FormatInt(id, 10)
	v := s.refData.Get(key, func() (interface{}, time.Duration, int) {
		seg, err := s.getSegmentUncached(id)
		if err != nil {
			return cachedResult[domain.Segment]{err: err}, 0, 1
		}
		return cachedResult[domain.Segment]{val: seg}, segmentCacheTTL, 1
	})
	metrics.ReferenceCacheEntries.Set(float64(s.refData.Len()))
	r := v.(cachedResult[domain.Segment])
	return r.val, r.err
}

// cachedResult lets a failed lookup flow through lrucache.Get without it
// being mistaken for an uncached miss (a zero TTL there means "don't
// cache", not "this is an error"); errors get a zero TTL so they are
// never cached and the next call retries the query.
type cachedResult[T any] struct {
	val T
	err error
}

func (s *Store) getSegmentUncached(id int64) (domain.Segment, error) {
	var seg domain.Segment
	err := sq.Select("id", "name", "distance_km", "max_speed_kmh", "min_speed_kmh").
		From("segment").Where(sq.Eq{"id": id}).RunWith(s.db).
		QueryRow().Scan(&seg.ID, &seg.Name, &seg.DistanceKm, &seg.MaxSpeedKmh, &seg.MinSpeedKmh)
	if err == sql.ErrNoRows {
		return domain.Segment{}, fmt.Errorf("segment %d: %w", id, domain.ErrNotFound)
	}
	return seg, err
}

func (s *Store) GetCheckpost(id int64) (domain.Checkpost, error) {
	var cp domain.Checkpost
	err := sq.Select("id", "segment_id", "code", "name", "position_index").
		From("checkpost").Where(sq.Eq{"id": id}).RunWith(s.db).
		QueryRow().Scan(&cp.ID, &cp.SegmentID, &cp.Code, &cp.Name, &cp.PositionIndex)
	if err == sql.ErrNoRows {
		return domain.Checkpost{}, fmt.Errorf("checkpost %d: %w", id, domain.ErrNotFound)
	}
	return cp, err
}

func (s *Store) GetCheckpostByCode(code string) (domain.Checkpost, error) {
	var cp domain.Checkpost
	err := sq.Select("id", "segment_id", "code", "name", "position_index").
		From("checkpost").Where(sq.Eq{"code": code}).RunWith(s.db).
		QueryRow().Scan(&cp.ID, &cp.SegmentID, &cp.Code, &cp.Name, &cp.PositionIndex)
	if err == sql.ErrNoRows {
		return domain.Checkpost{}, fmt.Errorf("checkpost %q: %w", code, domain.ErrNotFound)
	}
	return cp, err
}

// RangerBySuffix resolves an active ranger whose phone number ends with
// suffix, as the SMS gateway needs to (spec §4.5 step 3). Returns
// ErrUnknownSender for zero matches and ErrAmbiguousSender for more than
// one, so the gateway can distinguish the two refusal reasons.
func (s *Store) RangerBySuffix(suffix string) (rangerID int64, checkpostID int64, err error) {
	rows, err := sq.Select("id", "checkpost_id").From("ranger").
		Where(sq.Eq{"active": true}).
		Where("phone LIKE ?", "%"+suffix).
		RunWith(s.db).Query()
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	var ids []int64
	var checkpostIDs []int64
	for rows.Next() {
		var id int64
		var cpID sql.NullInt64
		if err := rows.Scan(&id, &cpID); err != nil {
			return 0, 0, err
		}
		ids = append(ids, id)
		checkpostIDs = append(checkpostIDs, cpID.Int64)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	switch len(ids) {
	case 0:
		return 0, 0, domain.ErrUnknownSender
	case 1:
		return ids[0], checkpostIDs[0], nil
	default:
		return 0, 0, domain.ErrAmbiguousSender
	}
}
