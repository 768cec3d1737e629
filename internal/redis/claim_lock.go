package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const claimKeyPrefix = "outbox:claim:"

// releaseScript deletes the key only if this instance still owns it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ClaimLock is a per-event single-flight guard shared by every dispatcher
// process pointed at the same Redis.
type ClaimLock struct {
	client *goredis.Client
	owner  string
}

func NewClaimLock(client *goredis.Client) *ClaimLock {
	return &ClaimLock{client: client, owner: uuid.NewString()}
}

func claimKey(eventID uuid.UUID) string {
	return claimKeyPrefix + eventID.String()
}

// Acquire returns true when this instance now holds the lease for eventID.
func (l *ClaimLock) Acquire(ctx context.Context, eventID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, claimKey(eventID), l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", eventID, err)
	}
	return ok, nil
}

func (l *ClaimLock) Release(ctx context.Context, eventID uuid.UUID) error {
	return releaseScript.Run(ctx, l.client, []string{claimKey(eventID)}, l.owner).Err()
}
