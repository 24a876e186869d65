package policy

import (
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/store"
)

// ScopedStore decorates *store.Store with the role/segment-scoped
// authorization of spec §4.2. The HTTP intake path goes through it; the
// SMS gateway writes to *store.Store directly and does not use it.
type ScopedStore struct {
	store *store.Store
}

func NewScopedStore(s *store.Store) *ScopedStore {
	return &ScopedStore{store: s}
}

// InsertPassage enforces the write-side rule before delegating to the
// underlying store: the caller must be admin, or must be the ranger and
// checkpost the passage claims to be recorded by/at.
func (ss *ScopedStore) InsertPassage(caller CallerIdentity, p *domain.Passage) (domain.InsertOutcome, int64, error) {
	if err := authorizeInsert(caller, p); err != nil {
		return 0, 0, err
	}
	return ss.store.InsertPassage(p)
}

// GetPassage enforces the read-side segment scope: a ranger may only see
// passages belonging to their own segment.
func (ss *ScopedStore) GetPassage(caller CallerIdentity, id int64) (*domain.Passage, error) {
	p, err := ss.store.GetPassage(id)
	if err != nil {
		return nil, err
	}
	if !caller.canReadSegment(p.SegmentID, caller.segmentIDForReader(ss.store)) {
		return nil, domain.ErrPolicyRefused
	}
	return p, nil
}

// ListUnmatchedOpposite is the inbound-pull endpoint (spec §4.9): a ranger
// may only pull for their own segment; an admin may pull for any.
func (ss *ScopedStore) ListUnmatchedOpposite(caller CallerIdentity, segmentID, myCheckpostID int64, cutoff time.Time, limit int) ([]*domain.Passage, error) {
	if !caller.canReadSegment(segmentID, caller.segmentIDForReader(ss.store)) {
		return nil, domain.ErrPolicyRefused
	}
	return ss.store.ListUnmatchedOpposite(segmentID, myCheckpostID, cutoff, limit)
}

// ListViolationsBySegment is an admin/ranger reporting view (spec §4.4).
func (ss *ScopedStore) ListViolationsBySegment(caller CallerIdentity, segmentID int64, limit int) ([]*domain.Violation, error) {
	if !caller.canReadSegment(segmentID, caller.segmentIDForReader(ss.store)) {
		return nil, domain.ErrPolicyRefused
	}
	return ss.store.ListViolationsBySegment(segmentID, limit)
}

// ListUnresolvedOverstayAlerts is an admin/ranger reporting view (spec §4.4).
func (ss *ScopedStore) ListUnresolvedOverstayAlerts(caller CallerIdentity, segmentID int64, limit int) ([]*domain.OverstayAlert, error) {
	if !caller.canReadSegment(segmentID, caller.segmentIDForReader(ss.store)) {
		return nil, domain.ErrPolicyRefused
	}
	return ss.store.ListUnresolvedOverstayAlerts(segmentID, limit)
}

// segmentIDForReader resolves the caller's own checkpost to its segment,
// so canReadSegment can compare like with like. Admin callers never reach
// the comparison (IsAdmin short-circuits it), so a lookup failure here
// only ever denies a ranger, never grants one.
func (c CallerIdentity) segmentIDForReader(s *store.Store) int64 {
	if c.Role != RoleRanger {
		return 0
	}
	cp, err := s.GetCheckpost(c.CheckpostID)
	if err != nil {
		return -1
	}
	return cp.SegmentID
}
