package groups

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const userGroupsKeyFmt = "user:%s:groups"

// SetClient is the part of *redis.Client the Redis repository needs.
type SetClient interface {
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
}

// RedisRepository keeps each user's groups in the set user:{id}:groups.
type RedisRepository struct {
	rdb SetClient
}

func NewRedisRepository(rdb SetClient) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

func userGroupsKey(userID string) string {
	return fmt.Sprintf(userGroupsKeyFmt, userID)
}

// GroupsOf returns the user's groups sorted. A missing key is an empty set.
func (r *RedisRepository) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, userGroupsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read groups: %w", err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisRepository) AddMember(ctx context.Context, userID, groupID string) error {
	if err := r.rdb.SAdd(ctx, userGroupsKey(userID), groupID).Err(); err != nil {
		return fmt.Errorf("failed to add group: %w", err)
	}
	return nil
}

func (r *RedisRepository) RemoveMember(ctx context.Context, userID, groupID string) error {
	if err := r.rdb.SRem(ctx, userGroupsKey(userID), groupID).Err(); err != nil {
		return fmt.Errorf("failed to remove group: %w", err)
	}
	return nil
}
