package scylla

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identity_documents (
		owner_bucket int,
		owner_id text,
		document_type text,
		uploaded_at timestamp,
		document_id text,
		number_cipher text,
		number_masked text,
		blob_path text,
		blob_url text,
		mime_type text,
		size_bytes bigint,
		status text,
		reviewed_at timestamp,
		reviewer text,
		rejection_reason text,
		PRIMARY KEY ((owner_bucket, owner_id), document_type, uploaded_at, document_id)
	) WITH CLUSTERING ORDER BY (document_type ASC, uploaded_at ASC, document_id ASC)`,

	`CREATE TABLE IF NOT EXISTS selfie_verifications (
		owner_bucket int,
		owner_id text,
		uploaded_at timestamp,
		selfie_id text,
		blob_path text,
		blob_url text,
		mime_type text,
		size_bytes bigint,
		status text,
		reviewed_at timestamp,
		reviewer text,
		rejection_reason text,
		PRIMARY KEY ((owner_bucket, owner_id), uploaded_at, selfie_id)
	)`,

	`CREATE TABLE IF NOT EXISTS phone_to_user (
		phone_hash text,
		user_id text,
		created_at timestamp,
		PRIMARY KEY (phone_hash, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS venues (
		venue_id text PRIMARY KEY,
		owner_id text,
		name text,
		latitude double,
		longitude double
	)`,

	`CREATE TABLE IF NOT EXISTS merchant_location_verifications (
		owner_id text,
		verified_at timestamp,
		venue_id text,
		distance_km double,
		tolerance_km double,
		within_tolerance boolean,
		city text,
		PRIMARY KEY (owner_id, verified_at)
	) WITH CLUSTERING ORDER BY (verified_at DESC)`,

	`CREATE TABLE IF NOT EXISTS merchant_profiles (
		owner_id text PRIMARY KEY,
		location_verified boolean,
		location_venue_id text,
		location_distance_km double,
		location_city text,
		location_verified_at timestamp
	)`,
}
