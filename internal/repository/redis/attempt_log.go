package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"merchant-verification/internal/client"
	"merchant-verification/internal/model"
	"merchant-verification/internal/util"
)

const (
	attemptPrefix = "attempts:"
	devicePrefix  = "device_ids:"
)

// appendAttempt adds an entry to the sliding window and drops everything
// older than the retention window in one atomic step.
var appendAttempt = goredis.NewScript(`
	local key = KEYS[1]

	redis.call('ZADD', key, ARGV[1], ARGV[4])
	if ARGV[2] ~= '' then
		redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
		redis.call('PEXPIRE', key, ARGV[3])
	end

	if KEYS[2] ~= '' then
		redis.call('SADD', KEYS[2], ARGV[5])
	end
	return redis.call('ZCARD', key)
`)

// AttemptLog keeps one sorted set per (channel, identifier), scored by
// timestamp in milliseconds, and one set of identifiers per device.
type AttemptLog struct {
	client *client.RedisClient
}

func NewAttemptLog(c *client.RedisClient) *AttemptLog {
	return &AttemptLog{client: c}
}

func attemptKey(identifier string, channel model.Channel) string {
	return attemptPrefix + model.ChallengeKey(identifier, channel)
}

func (l *AttemptLog) AppendAttempt(ctx context.Context, e *model.AttemptLogEntry, retention time.Duration) error {
	member, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode attempt: %w", err)
	}

	deviceKey := ""
	if e.DeviceFingerprint != "" {
		deviceKey = devicePrefix + e.DeviceFingerprint
	}

	now := e.Timestamp.UnixMilli()
	cutoff := ""
	if retention > 0 {
		cutoff = "(" + strconv.FormatInt(now-retention.Milliseconds(), 10)
	}

	_, err = l.client.RunScript(ctx, appendAttempt,
		[]string{attemptKey(e.Identifier, e.Channel), deviceKey},
		now, cutoff, retention.Milliseconds(), string(member), e.Identifier)
	if err != nil {
		util.Error("Failed to append attempt",
			util.Identifier("identifier", e.Identifier),
			zap.String("channel", string(e.Channel)),
			zap.Error(err))
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

// CountAttempts counts entries strictly after since.
func (l *AttemptLog) CountAttempts(ctx context.Context, identifier string, channel model.Channel, since time.Time) (int, error) {
	n, err := l.client.ZCount(ctx, attemptKey(identifier, channel), "("+strconv.FormatInt(since.UnixMilli(), 10), "+inf")
	if err != nil {
		util.Error("Failed to count attempts", util.Identifier("identifier", identifier), zap.Error(err))
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return int(n), nil
}

func (l *AttemptLog) DeviceIdentifiers(ctx context.Context, fingerprint string) ([]string, error) {
	ids, err := l.client.SMembers(ctx, devicePrefix+fingerprint)
	if err != nil {
		util.Error("Failed to read device registrations", zap.String("device_fingerprint", fingerprint), zap.Error(err))
		return nil, fmt.Errorf("failed to read device registrations: %w", err)
	}
	return ids, nil
}
