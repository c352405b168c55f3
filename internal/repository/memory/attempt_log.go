package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"merchant-verification/internal/model"
)

type AttemptLog struct {
	mu      sync.RWMutex
	entries map[string][]model.AttemptLogEntry
	devices map[string]map[string]struct{}
}

func NewAttemptLog() *AttemptLog {
	return &AttemptLog{
		entries: make(map[string][]model.AttemptLogEntry),
		devices: make(map[string]map[string]struct{}),
	}
}

// AppendAttempt records e and prunes entries for the same key that fell out
// of the retention window. Device registrations are never pruned.
func (l *AttemptLog) AppendAttempt(_ context.Context, e *model.AttemptLogEntry, retention time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := model.ChallengeKey(e.Identifier, e.Channel)
	kept := l.entries[key][:0]
	for _, old := range l.entries[key] {
		if retention <= 0 || !old.Timestamp.Before(e.Timestamp.Add(-retention)) {
			kept = append(kept, old)
		}
	}
	l.entries[key] = append(kept, *e)

	if e.DeviceFingerprint != "" {
		set, ok := l.devices[e.DeviceFingerprint]
		if !ok {
			set = make(map[string]struct{})
			l.devices[e.DeviceFingerprint] = set
		}
		set[e.Identifier] = struct{}{}
	}
	return nil
}

func (l *AttemptLog) CountAttempts(_ context.Context, identifier string, channel model.Channel, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.entries[model.ChallengeKey(identifier, channel)] {
		if e.Timestamp.After(since) {
			n++
		}
	}
	return n, nil
}

func (l *AttemptLog) DeviceIdentifiers(_ context.Context, fingerprint string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.devices[fingerprint]))
	for id := range l.devices[fingerprint] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
