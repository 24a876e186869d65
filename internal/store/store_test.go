package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a fresh in-memory sqlite database, migrated and seeded
// with one segment and its two checkposts plus a ranger at each, mirroring
// the fixture shape every sub-test below builds on.
func newTestStore(t *testing.T) (*Store, domain.Segment, domain.Checkpost, domain.Checkpost) {
	t.Helper()

	s, err := Connect("sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.db.Exec(`INSERT INTO segment (id, name, distance_km, max_speed_kmh, min_speed_kmh) VALUES (1, 'NH-7 Blackspot', 60, 80, 20)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO checkpost (id, segment_id, code, name, position_index) VALUES (1, 1, 'CP-A', 'North Gate', 0)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO checkpost (id, segment_id, code, name, position_index) VALUES (2, 1, 'CP-B', 'South Gate', 1)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO ranger (id, phone, active, checkpost_id) VALUES (1, '+910000000001', 1, 1)`)
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO ranger (id, phone, active, checkpost_id) VALUES (2, '+910000000002', 1, 2)`)
	require.NoError(t, err)

	seg, err := s.GetSegment(1)
	require.NoError(t, err)
	cpA, err := s.GetCheckpost(1)
	require.NoError(t, err)
	cpB, err := s.GetCheckpost(2)
	require.NoError(t, err)

	return s, seg, cpA, cpB
}

func TestInsertPassageDuplicateClientIDIsIdempotent(t *testing.T) {
	s, _, cpA, _ := newTestStore(t)

	p := &domain.Passage{
		ClientID: "client-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpA.ID, SegmentID: cpA.SegmentID, RecordedAt: time.Now().UTC(),
		RangerID: 1, Source: domain.SourceApp,
	}

	outcome1, id1, err := s.InsertPassage(p)
	require.NoError(t, err)
	require.Equal(t, domain.Created, outcome1)

	p2 := *p
	outcome2, id2, err := s.InsertPassage(&p2)
	require.NoError(t, err)
	require.Equal(t, domain.Duplicate, outcome2)
	require.Equal(t, id1, id2)
}

func TestInsertPassagePairMatchesAndClassifiesWithinBounds(t *testing.T) {
	s, seg, cpA, cpB := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, entryID, err := s.InsertPassage(&domain.Passage{
		ClientID: "entry-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpA.ID, SegmentID: seg.ID, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	// 60km at something comfortably between 20 and 80 km/h takes between
	// 45 and 180 minutes; 90 minutes lands inside that window.
	exitTime := entryTime.Add(90 * time.Minute)
	_, exitID, err := s.InsertPassage(&domain.Passage{
		ClientID: "exit-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpB.ID, SegmentID: seg.ID, RecordedAt: exitTime, RangerID: 2, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	entry, err := s.GetPassage(entryID)
	require.NoError(t, err)
	exit, err := s.GetPassage(exitID)
	require.NoError(t, err)

	require.NotNil(t, entry.MatchedPassageID)
	require.Equal(t, exitID, *entry.MatchedPassageID)
	require.NotNil(t, entry.IsEntry)
	require.True(t, *entry.IsEntry)

	require.NotNil(t, exit.MatchedPassageID)
	require.Equal(t, entryID, *exit.MatchedPassageID)
	require.NotNil(t, exit.IsEntry)
	require.False(t, *exit.IsEntry)

	_, err = s.GetViolation(entryID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertPassagePairSpeedingProducesViolation(t *testing.T) {
	s, _, cpA, cpB := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, entryID, err := s.InsertPassage(&domain.Passage{
		ClientID: "entry-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpA.ID, SegmentID: 1, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	// 60km in 20 minutes is 180 km/h, far faster than the 80 km/h limit
	// (min travel time is 45 minutes), so this must be flagged speeding.
	exitTime := entryTime.Add(20 * time.Minute)
	_, exitID, err := s.InsertPassage(&domain.Passage{
		ClientID: "exit-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpB.ID, SegmentID: 1, RecordedAt: exitTime, RangerID: 2, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	v, err := s.GetViolation(entryID)
	require.NoError(t, err)
	require.Equal(t, domain.ViolationSpeeding, v.Kind)
	require.Equal(t, entryID, v.EntryPassageID)
	require.Equal(t, exitID, v.ExitPassageID)
	require.InDelta(t, 180, v.CalculatedSpeedKmh, 0.01)
}

func TestInsertPassagePairOverstayProducesViolationAndResolvesAlert(t *testing.T) {
	s, _, cpA, cpB := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, entryID, err := s.InsertPassage(&domain.Passage{
		ClientID: "entry-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleTruck,
		CheckpostID: cpA.ID, SegmentID: 1, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	// The scanner runs while the exit is still outstanding and raises an
	// alert; the eventual exit must then resolve that same alert.
	scanTime := entryTime.Add(4 * time.Hour)
	created, err := s.ScanOverdueUnmatchedEntries(scanTime)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	alert, err := s.GetOverstayAlertByEntry(entryID)
	require.NoError(t, err)
	require.False(t, alert.Resolved)

	// 60km in 5 hours is far below the 20 km/h floor, beyond the 180-minute
	// max travel time, so the eventual exit is still an overstay violation.
	exitTime := entryTime.Add(5 * time.Hour)
	_, exitID, err := s.InsertPassage(&domain.Passage{
		ClientID: "exit-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleTruck,
		CheckpostID: cpB.ID, SegmentID: 1, RecordedAt: exitTime, RangerID: 2, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	v, err := s.GetViolation(entryID)
	require.NoError(t, err)
	require.Equal(t, domain.ViolationOverstay, v.Kind)

	resolved, err := s.GetOverstayAlertByEntry(entryID)
	require.NoError(t, err)
	require.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedByPassageID)
	require.Equal(t, exitID, *resolved.ResolvedByPassageID)
}

func TestScanOverdueUnmatchedEntriesIsIdempotent(t *testing.T) {
	s, _, cpA, _ := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, _, err := s.InsertPassage(&domain.Passage{
		ClientID: "entry-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleTruck,
		CheckpostID: cpA.ID, SegmentID: 1, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	scanTime := entryTime.Add(4 * time.Hour)
	created1, err := s.ScanOverdueUnmatchedEntries(scanTime)
	require.NoError(t, err)
	require.Equal(t, 1, created1)

	created2, err := s.ScanOverdueUnmatchedEntries(scanTime.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, created2)
}

func TestScanOverdueUnmatchedEntriesSkipsEntriesStillWithinBound(t *testing.T) {
	s, _, cpA, _ := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, _, err := s.InsertPassage(&domain.Passage{
		ClientID: "entry-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpA.ID, SegmentID: 1, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	// Max travel time for this fixture segment is 180 minutes; 30 minutes
	// in, nothing should be flagged yet.
	created, err := s.ScanOverdueUnmatchedEntries(entryTime.Add(30 * time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, created)
}

func TestListUnmatchedOppositeReturnsOnlyOppositeCheckpost(t *testing.T) {
	s, _, cpA, cpB := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, _, err := s.InsertPassage(&domain.Passage{
		ClientID: "a-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpA.ID, SegmentID: 1, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	list, err := s.ListUnmatchedOpposite(1, cpB.ID, entryTime.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, cpA.ID, list[0].CheckpostID)

	listFromA, err := s.ListUnmatchedOpposite(1, cpA.ID, entryTime.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, listFromA)
}

// TestConcurrentExitsClaimTheSameEntryExactlyOnce exercises claimCandidate's
// race-free-by-construction claim (spec §9): many exit-side passages for
// the same plate/segment/opposite-checkpost race to pair against a single
// unmatched entry. Exactly one must win; the rest must find no candidate
// and stay unmatched, regardless of how the sqlite connection pool
// interleaves their transactions.
func TestConcurrentExitsClaimTheSameEntryExactlyOnce(t *testing.T) {
	s, _, cpA, cpB := newTestStore(t)

	entryTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	_, entryID, err := s.InsertPassage(&domain.Passage{
		ClientID: "entry-1", PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: cpA.ID, SegmentID: 1, RecordedAt: entryTime, RangerID: 1, Source: domain.SourceApp,
	})
	require.NoError(t, err)

	const n = 8
	ids := make([]int64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, id, err := s.InsertPassage(&domain.Passage{
				ClientID:    fmt.Sprintf("exit-%d", i),
				PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
				CheckpostID: cpB.ID, SegmentID: 1,
				RecordedAt: entryTime.Add(90 * time.Minute), RangerID: 2, Source: domain.SourceApp,
			})
			ids[i] = id
			errs[i] = err
		}(i)
	}
	wg.Wait()

	matchedCount := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		p, err := s.GetPassage(ids[i])
		require.NoError(t, err)
		if p.MatchedPassageID != nil {
			require.Equal(t, entryID, *p.MatchedPassageID)
			matchedCount++
		}
	}
	require.Equal(t, 1, matchedCount)

	entry, err := s.GetPassage(entryID)
	require.NoError(t, err)
	require.NotNil(t, entry.MatchedPassageID)
}

// TestAssignRolesBreaksTiesOnLexicographicID pins down the tie-break spec
// §4.3 step 3 / §9 requires when both passages share the exact same
// recorded_at: the outcome must depend only on id, never on argument
// order, so a concurrent matcher racing the other direction reaches the
// same answer.
func TestAssignRolesBreaksTiesOnLexicographicID(t *testing.T) {
	sameTime := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	lower := &domain.Passage{ID: 5, RecordedAt: sameTime}
	higher := &domain.Passage{ID: 12, RecordedAt: sameTime}

	// Lexicographic, not numeric: "12" < "5" as strings, so the passage
	// with the numerically larger id is the one that sorts first here.
	entry, exit := assignRoles(lower, higher)
	require.Equal(t, higher, entry)
	require.Equal(t, lower, exit)

	// Swapping argument order must not change the outcome.
	entry2, exit2 := assignRoles(higher, lower)
	require.Equal(t, higher, entry2)
	require.Equal(t, lower, exit2)
}

func TestRangerBySuffixDisambiguates(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	_, _, err := s.RangerBySuffix("000001")
	require.NoError(t, err)

	_, _, err = s.RangerBySuffix("999999")
	require.ErrorIs(t, err, domain.ErrUnknownSender)

	_, err = s.db.Exec(`INSERT INTO ranger (id, phone, active, checkpost_id) VALUES (3, '+910000000001', 1, 1)`)
	require.NoError(t, err)
	_, _, err = s.RangerBySuffix("000001")
	require.ErrorIs(t, err, domain.ErrAmbiguousSender)
}
