// Package policy is the role- and segment-scoped access layer over the
// store (spec §4.2, §5): a caller acting as a ranger may read or write
// only what their own checkpost assignment covers, an admin caller has
// unrestricted access, and an unauthenticated caller gets nothing.
package policy

import "github.com/highwaypatrol/passage-core/internal/domain"

// Role is the closed set of caller roles the access policy distinguishes.
type Role string

const (
	RoleRanger Role = "ranger"
	RoleAdmin  Role = "admin"
)

// CallerIdentity is what an authenticated request carries: who is asking,
// as what role, and (for rangers) which checkpost they're tied to.
type CallerIdentity struct {
	Subject     string
	Role        Role
	RangerID    int64
	CheckpostID int64
}

func (c CallerIdentity) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// canReadSegment reports whether c may read data scoped to segmentID.
func (c CallerIdentity) canReadSegment(segmentID int64, checkpostSegmentID int64) bool {
	if c.IsAdmin() {
		return true
	}
	return c.Role == RoleRanger && checkpostSegmentID == segmentID
}

// canInsertAs reports whether c may submit a passage recorded as rangerID
// at checkpostID.
func (c CallerIdentity) canInsertAs(rangerID, checkpostID int64) bool {
	if c.IsAdmin() {
		return true
	}
	return c.Role == RoleRanger && c.RangerID == rangerID && c.CheckpostID == checkpostID
}

// authorizeInsert applies the write-side rule of spec §4.2 to a candidate
// Passage before it ever reaches the store.
func authorizeInsert(c CallerIdentity, p *domain.Passage) error {
	if c.Subject == "" {
		return domain.ErrPolicyRefused
	}
	if !c.canInsertAs(p.RangerID, p.CheckpostID) {
		return domain.ErrPolicyRefused
	}
	return nil
}
