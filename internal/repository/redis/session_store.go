package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"merchant-verification/internal/client"
	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
	"merchant-verification/internal/util"
)

const verificationSessionPrefix = "verification_session:"

// SessionStore persists orchestrator sessions on behalf of the HTTP caller.
type SessionStore struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewSessionStore(c *client.RedisClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: c, ttl: ttl}
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	raw, err := s.client.Get(ctx, verificationSessionPrefix+sessionID)
	if errors.Is(err, client.ErrKeyNotFound) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to load verification session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to load verification session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		util.Error("Corrupt verification session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, fmt.Errorf("failed to decode verification session: %w", err)
	}
	return &sess, nil
}

// SaveSession writes the session and refreshes its TTL.
func (s *SessionStore) SaveSession(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode verification session: %w", err)
	}
	if err := s.client.Set(ctx, verificationSessionPrefix+sess.SessionID, data, s.ttl); err != nil {
		util.Error("Failed to save verification session",
			zap.String("session_id", sess.SessionID),
			zap.Duration("ttl", s.ttl),
			zap.Error(err))
		return fmt.Errorf("failed to save verification session: %w", err)
	}
	util.Debug("Verification session saved", zap.String("session_id", sess.SessionID), zap.String("stage", string(sess.Stage)))
	return nil
}
