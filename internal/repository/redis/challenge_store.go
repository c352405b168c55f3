package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"merchant-verification/internal/client"
	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
	"merchant-verification/internal/util"
)

const (
	challengePrefix = "challenge:"

	// Challenges linger past expiry so a late confirm reports Expired rather
	// than NotFound.
	challengeGrace = 15 * time.Minute
)

// saveChallenge replaces the challenge and bumps its version past the one it
// replaces, so an update prepared against the old challenge conflicts.
var saveChallenge = goredis.NewScript(`
	local version = tonumber(redis.call('HGET', KEYS[1], 'version') or '0') + 1
	redis.call('DEL', KEYS[1])
	redis.call('HSET', KEYS[1],
		'code_hash', ARGV[1],
		'created_at', ARGV[2],
		'expires_at', ARGV[3],
		'attempts', ARGV[4],
		'verified', ARGV[5],
		'version', version)
	redis.call('PEXPIREAT', KEYS[1], ARGV[6])
	return version
`)

// casChallenge applies an update only when the stored version and issue time
// match. The issue time catches a challenge re-created after its key expired.
// Returns 1 on success, 0 on conflict, -1 when the key is gone.
var casChallenge = goredis.NewScript(`
	local current = redis.call('HGET', KEYS[1], 'version')
	if not current then
		return -1
	end
	if tonumber(current) ~= tonumber(ARGV[1]) then
		return 0
	end
	if redis.call('HGET', KEYS[1], 'created_at') ~= ARGV[4] then
		return 0
	end
	redis.call('HSET', KEYS[1], 'attempts', ARGV[2], 'verified', ARGV[3], 'version', tonumber(ARGV[1]) + 1)
	return 1
`)

type ChallengeStore struct {
	client *client.RedisClient
}

func NewChallengeStore(c *client.RedisClient) *ChallengeStore {
	return &ChallengeStore{client: c}
}

func challengeKey(identifier string, channel model.Channel) string {
	return challengePrefix + model.ChallengeKey(identifier, channel)
}

// SaveChallenge replaces any prior challenge for the same key.
func (s *ChallengeStore) SaveChallenge(ctx context.Context, c *model.Challenge) error {
	res, err := s.client.RunScript(ctx, saveChallenge,
		[]string{challengeKey(c.Identifier, c.Channel)},
		c.CodeHash,
		c.CreatedAt.UnixMilli(),
		c.ExpiresAt.UnixMilli(),
		c.Attempts,
		boolFlag(c.Verified),
		c.ExpiresAt.Add(challengeGrace).UnixMilli(),
	)
	if err != nil {
		util.Error("Failed to save challenge",
			util.Identifier("identifier", c.Identifier),
			zap.String("channel", string(c.Channel)),
			zap.Error(err))
		return fmt.Errorf("failed to save challenge: %w", err)
	}
	version, ok := res.(int64)
	if !ok {
		return errors.New("unexpected challenge save result")
	}
	c.Version = version
	return nil
}

func (s *ChallengeStore) GetChallenge(ctx context.Context, identifier string, channel model.Channel) (*model.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, challengeKey(identifier, channel))
	if err != nil {
		util.Error("Failed to load challenge", util.Identifier("identifier", identifier), zap.Error(err))
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}

	c := &model.Challenge{
		Identifier: identifier,
		Channel:    channel,
		CodeHash:   fields["code_hash"],
		Verified:   fields["verified"] == "1",
	}
	var parseErr error
	parseInt := func(name string) int64 {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("challenge field %s: %w", name, err)
		}
		return v
	}
	c.CreatedAt = time.UnixMilli(parseInt("created_at")).UTC()
	c.ExpiresAt = time.UnixMilli(parseInt("expires_at")).UTC()
	c.Attempts = int(parseInt("attempts"))
	c.Version = parseInt("version")
	if parseErr != nil {
		util.Error("Corrupt challenge record", util.Identifier("identifier", identifier), zap.Error(parseErr))
		return nil, parseErr
	}
	return c, nil
}

func (s *ChallengeStore) UpdateChallenge(ctx context.Context, c *model.Challenge, expectedVersion int64) error {
	res, err := s.client.RunScript(ctx, casChallenge,
		[]string{challengeKey(c.Identifier, c.Channel)},
		expectedVersion, c.Attempts, boolFlag(c.Verified), c.CreatedAt.UnixMilli())
	if err != nil {
		util.Error("Failed to update challenge", util.Identifier("identifier", c.Identifier), zap.Error(err))
		return fmt.Errorf("failed to update challenge: %w", err)
	}

	switch code, _ := res.(int64); code {
	case 1:
		c.Version = expectedVersion + 1
		return nil
	case 0:
		return repository.ErrVersionConflict
	case -1:
		return repository.ErrNotFound
	}
	return errors.New("unexpected challenge update result")
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
