package engine

import "context"

// MembershipOracle confirms whether this device is still a member of a
// cloud-sourced deployment group, per §3's GroupToRoots validity rule:
// "a group_id is valid if ... the device is still a member (for cloud
// groups, confirmed by a membership oracle) or the group is a
// device-local source." currentGroupToRoots consults it only for groups
// it has observed committed under a cloud source; device-local groups
// never call it at all.
type MembershipOracle interface {
	// IsMember reports whether the device is still a member of groupID.
	// An error means the oracle could not be reached; the caller must
	// treat that the same as "unknown" and preserve existing state
	// rather than pruning the group, per §4.1's offline rule.
	IsMember(ctx context.Context, groupID string) (bool, error)
}
