// Package audit mirrors the attempt log into ClickHouse for abuse analytics.
package audit

import (
	"context"
	"fmt"

	"merchant-verification/internal/bucketing"
	"merchant-verification/internal/model"
	"merchant-verification/internal/util"
)

// Schema is applied once at startup.
const Schema = `CREATE TABLE IF NOT EXISTS verification_attempts (
	attempt_id String,
	event_bucket UInt16,
	event_date Date,
	identifier_masked String,
	identifier_bucket UInt32,
	channel LowCardinality(String),
	device_fingerprint String,
	source_ip String,
	user_agent String,
	attempted_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY event_date
ORDER BY (event_bucket, channel, attempted_at)
TTL toDate(attempted_at) + INTERVAL 180 DAY`

const insertAttempt = `INSERT INTO verification_attempts (
	attempt_id, event_bucket, event_date, identifier_masked, identifier_bucket,
	channel, device_fingerprint, source_ip, user_agent, attempted_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	AsyncInsert(ctx context.Context, query string, args ...interface{}) error
}

// ClickHouseSink stores attempts with the identifier masked; the bucket of the
// raw identifier keeps per-identifier aggregation possible without keeping
// the contact detail itself.
type ClickHouseSink struct {
	conn    Execer
	buckets *bucketing.BucketingManager
}

func NewClickHouseSink(conn Execer, buckets *bucketing.BucketingManager) *ClickHouseSink {
	return &ClickHouseSink{conn: conn, buckets: buckets}
}

func (s *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create verification_attempts: %w", err)
	}
	return nil
}

func (s *ClickHouseSink) RecordAttempt(ctx context.Context, e *model.AttemptLogEntry) error {
	ts := e.Timestamp.UTC()
	err := s.conn.AsyncInsert(ctx, insertAttempt,
		e.ID,
		uint16(s.buckets.EventBucket(e.Identifier)),
		ts,
		util.MaskIdentifier(e.Identifier),
		uint32(s.buckets.OwnerBucket(e.Identifier)),
		string(e.Channel),
		e.DeviceFingerprint,
		e.SourceIP,
		e.UserAgent,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt audit row: %w", err)
	}
	return nil
}
