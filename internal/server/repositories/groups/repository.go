// Package groups resolves and manages user group memberships. Two
// implementations satisfy access.GroupLookup: a Postgres one over the
// user_groups table and a Redis one over per-user sets.
package groups

import "context"

type Repository interface {
	GroupsOf(ctx context.Context, userID string) ([]string, error)
	AddMember(ctx context.Context, userID, groupID string) error
	RemoveMember(ctx context.Context, userID, groupID string) error
}
