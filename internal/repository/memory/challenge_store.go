package memory

import (
	"context"
	"sync"

	"merchant-verification/internal/model"
	"merchant-verification/internal/repository"
)

// ChallengeStore keeps challenges in process memory. Updates are compare-and-swap
// on Version under a single mutex.
type ChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]model.Challenge
}

func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{challenges: make(map[string]model.Challenge)}
}

func (s *ChallengeStore) SaveChallenge(_ context.Context, c *model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Versions keep climbing across re-issues so an update prepared against
	// a superseded challenge always conflicts.
	key := model.ChallengeKey(c.Identifier, c.Channel)
	c.Version = s.challenges[key].Version + 1
	s.challenges[key] = *c
	return nil
}

func (s *ChallengeStore) GetChallenge(_ context.Context, identifier string, channel model.Channel) (*model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[model.ChallengeKey(identifier, channel)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *ChallengeStore) UpdateChallenge(_ context.Context, c *model.Challenge, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := model.ChallengeKey(c.Identifier, c.Channel)
	current, ok := s.challenges[key]
	if !ok {
		return repository.ErrNotFound
	}
	if current.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	c.Version = expectedVersion + 1
	s.challenges[key] = *c
	return nil
}
