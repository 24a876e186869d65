package localmatcher

import (
	"testing"
	"time"

	"github.com/highwaypatrol/passage-core/client/localstore"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/stretchr/testify/require"
)

type fixedSegmentLookup struct{ seg domain.Segment }

func (f fixedSegmentLookup) Segment(segmentID int64) (domain.Segment, error) { return f.seg, nil }

// testSegment is 60km with a 20-80 km/h legal range: 45 minutes minimum,
// 180 minutes maximum crossing time.
func testSegment() domain.Segment {
	return domain.Segment{ID: 1, Name: "NH-7 Blackspot", DistanceKm: 60, MaxSpeedKmh: 80, MinSpeedKmh: 20}
}

func newTestMatcher(t *testing.T, seg domain.Segment) (*Matcher, *localstore.Store, []Alert) {
	t.Helper()
	local, err := localstore.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	var alerts []Alert
	m := New(local, fixedSegmentLookup{seg: seg}, func(a Alert) { alerts = append(alerts, a) })
	return m, local, alerts
}

func TestEvaluateFlagsSpeeding(t *testing.T) {
	seg := testSegment()
	local, err := localstore.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer local.Close()

	var alerts []Alert
	m := New(local, fixedSegmentLookup{seg: seg}, func(a Alert) { alerts = append(alerts, a) })

	now := time.Now().UTC()
	require.NoError(t, local.UpsertCachedRemotePassages([]localstore.CachedRemotePassage{
		{RemotePassageID: 1, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar, CheckpostID: 2, SegmentID: 1, RecordedAt: now},
	}))

	p := &localstore.LocalPassage{
		ID: 1, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: 1, SegmentID: 1, RecordedAt: now.Add(20 * time.Minute),
	}
	m.Evaluate(p)

	require.Len(t, alerts, 1)
	require.Equal(t, domain.ViolationSpeeding, alerts[0].Kind)
}

func TestEvaluateFlagsOverstay(t *testing.T) {
	seg := testSegment()
	local, err := localstore.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer local.Close()

	var alerts []Alert
	m := New(local, fixedSegmentLookup{seg: seg}, func(a Alert) { alerts = append(alerts, a) })

	now := time.Now().UTC()
	require.NoError(t, local.UpsertCachedRemotePassages([]localstore.CachedRemotePassage{
		{RemotePassageID: 2, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar, CheckpostID: 2, SegmentID: 1, RecordedAt: now},
	}))

	p := &localstore.LocalPassage{
		ID: 2, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: 1, SegmentID: 1, RecordedAt: now.Add(4 * time.Hour),
	}
	m.Evaluate(p)

	require.Len(t, alerts, 1)
	require.Equal(t, domain.ViolationOverstay, alerts[0].Kind)
}

func TestEvaluateWithinBoundsHasNoKind(t *testing.T) {
	seg := testSegment()
	local, err := localstore.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	defer local.Close()

	var alerts []Alert
	m := New(local, fixedSegmentLookup{seg: seg}, func(a Alert) { alerts = append(alerts, a) })

	now := time.Now().UTC()
	require.NoError(t, local.UpsertCachedRemotePassages([]localstore.CachedRemotePassage{
		{RemotePassageID: 3, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar, CheckpostID: 2, SegmentID: 1, RecordedAt: now},
	}))

	p := &localstore.LocalPassage{
		ID: 3, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar,
		CheckpostID: 1, SegmentID: 1, RecordedAt: now.Add(60 * time.Minute),
	}
	m.Evaluate(p)

	require.Len(t, alerts, 1)
	require.Empty(t, alerts[0].Kind)
}

func TestEvaluateNoCandidateProducesNoAlert(t *testing.T) {
	m, _, _ := newTestMatcher(t, testSegment())

	var alerts []Alert
	m.onAlert = func(a Alert) { alerts = append(alerts, a) }

	p := &localstore.LocalPassage{
		ID: 4, PlateNumber: "UNSEEN9999", VehicleType: domain.VehicleCar,
		CheckpostID: 1, SegmentID: 1, RecordedAt: time.Now().UTC(),
	}
	m.Evaluate(p)

	require.Empty(t, alerts)
}
