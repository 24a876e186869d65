// Package localmatcher is the client's best-effort, UI-facing pair
// detector (spec §4.8). It runs purely against the local cache of
// opposite-checkpost passages and never produces a server-side
// Violation; the authoritative record is always produced server-side
// by the matcher in internal/store once the passage is intaken.
package localmatcher

import (
	"github.com/highwaypatrol/passage-core/client/localstore"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/pkg/log"
)

// Alert is the local-only classification surfaced to the UI.
type Alert struct {
	LocalPassageID    int64
	CandidateRemoteID int64
	PlateNumber       string
	Kind              domain.ViolationKind // empty when within bounds
	TravelTimeMinutes float64
}

// SegmentLookup resolves the travel-time thresholds for a segment. The
// client caches segment definitions locally (distance/speed bounds rarely
// change); how that cache is populated is outside this package's concern.
type SegmentLookup interface {
	Segment(segmentID int64) (domain.Segment, error)
}

// Matcher evaluates one local passage at a time against the cached
// opposite-checkpost passages.
type Matcher struct {
	local    *localstore.Store
	segments SegmentLookup
	onAlert  func(Alert)
}

func New(local *localstore.Store, segments SegmentLookup, onAlert func(Alert)) *Matcher {
	return &Matcher{local: local, segments: segments, onAlert: onAlert}
}

// Evaluate is called right after a local passage is recorded (spec §4.8
// "on every local passage insert"). A miss (no cached candidate) is not
// an error; it just means nothing to alert on yet.
func (m *Matcher) Evaluate(p *localstore.LocalPassage) {
	candidate, err := m.local.FindOppositeCandidate(p.PlateNumber, p.SegmentID, p.CheckpostID)
	if err != nil {
		return
	}

	seg, err := m.segments.Segment(p.SegmentID)
	if err != nil {
		log.Warnf("localmatcher: resolving segment %d: %s", p.SegmentID, err.Error())
		return
	}

	entryAt, exitAt := p.RecordedAt, candidate.RecordedAt
	if candidate.RecordedAt.Before(p.RecordedAt) {
		entryAt, exitAt = candidate.RecordedAt, p.RecordedAt
	}
	travelMinutes := exitAt.Sub(entryAt).Minutes()

	var kind domain.ViolationKind
	switch {
	case travelMinutes < seg.MinTravelTimeMinutes():
		kind = domain.ViolationSpeeding
	case travelMinutes > seg.MaxTravelTimeMinutes():
		kind = domain.ViolationOverstay
	}

	if m.onAlert != nil {
		m.onAlert(Alert{
			LocalPassageID:    p.ID,
			CandidateRemoteID: candidate.RemotePassageID,
			PlateNumber:       p.PlateNumber,
			Kind:              kind,
			TravelTimeMinutes: travelMinutes,
		})
	}
}
