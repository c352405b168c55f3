package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"

	"merchant-verification/internal/config"
)

// BucketingManager spreads owners and identifiers across a fixed number of
// partitions so no single Scylla or ClickHouse partition grows unbounded.
type BucketingManager struct {
	ownerBuckets int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg config.BucketingConfig) *BucketingManager {
	bm := &BucketingManager{
		ownerBuckets: positive(cfg.UserBuckets, 256),
		eventBuckets: positive(cfg.EventBuckets, 64),
	}
	// Pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// OwnerBucket returns the stable bucket (0 to ownerBuckets-1) for a merchant.
func (bm *BucketingManager) OwnerBucket(ownerID string) int {
	return bm.getBucket(ownerID, bm.ownerBuckets)
}

// EventBucket returns the bucket for attempt and audit rows of an identifier.
func (bm *BucketingManager) EventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	return int(bm.getHash(key) % uint64(numBuckets))
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return hasher.Sum64()
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
