package model

import (
	"io"
	"strings"
	"time"

	"merchant-verification/internal/geo"
)

// -------------------- CONTACT CHANNEL --------------------

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelSMS, "phone":
		return ChannelSMS, true
	}
	return "", false
}

// -------------------- OTP CHALLENGE --------------------

// Challenge is usable only while now < ExpiresAt, Attempts < max and !Verified.
type Challenge struct {
	Identifier string    `json:"identifier"`
	Channel    Channel   `json:"channel"`
	CodeHash   string    `json:"code_hash"` // never the plaintext code
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Attempts   int       `json:"attempts"`
	Verified   bool      `json:"verified"`
	Version    int64     `json:"version"` // bumped on every conditional update
}

func ChallengeKey(identifier string, channel Channel) string {
	return string(channel) + ":" + identifier
}

// -------------------- ATTEMPT LOG --------------------

type AttemptLogEntry struct {
	ID                string    `json:"id"`
	Identifier        string    `json:"identifier"`
	Channel           Channel   `json:"channel"`
	Timestamp         time.Time `json:"timestamp"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	SourceIP          string    `json:"source_ip"`
	UserAgent         string    `json:"user_agent"`
}

// RequestMeta carries what the transport knows about the caller's device.
type RequestMeta struct {
	DeviceFingerprint string
	SourceIP          string
	UserAgent         string
}

// -------------------- LOCATION --------------------

type LocationResult struct {
	DistanceKm        float64 `json:"distance_km"`
	IsWithinTolerance bool    `json:"is_within_tolerance"`
	ToleranceKm       float64 `json:"tolerance_km"`
	City              string  `json:"city,omitempty"`
}

type Position struct {
	Coordinates geo.Coordinates `json:"coordinates"`
	AccuracyM   float64         `json:"accuracy_m"`
	Timestamp   time.Time       `json:"timestamp"`
}

type PositionOptions struct {
	HighAccuracy  bool `json:"high_accuracy"`
	TimeoutMs     int  `json:"timeout_ms"`
	MaxCacheAgeMs int  `json:"max_cache_age_ms"`
}

type Venue struct {
	VenueID  string           `json:"venue_id"`
	OwnerID  string           `json:"owner_id"`
	Name     string           `json:"name"`
	Location *geo.Coordinates `json:"location,omitempty"` // nil when the listing has no pin
}

// MerchantLocationRecord is the location verdict kept on the merchant profile.
type MerchantLocationRecord struct {
	OwnerID         string    `json:"owner_id"`
	VenueID         string    `json:"venue_id"`
	DistanceKm      float64   `json:"distance_km"`
	ToleranceKm     float64   `json:"tolerance_km"`
	WithinTolerance bool      `json:"within_tolerance"`
	City            string    `json:"city,omitempty"`
	VerifiedAt      time.Time `json:"verified_at"`
}

// -------------------- IDENTITY ARTIFACTS --------------------

type DocumentType string

const (
	DocumentPAN     DocumentType = "pan"
	DocumentAadhaar DocumentType = "aadhaar"
	DocumentOther   DocumentType = "other"
)

func ParseDocumentType(s string) (DocumentType, bool) {
	switch DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case DocumentPAN:
		return DocumentPAN, true
	case DocumentAadhaar, "aadhar":
		return DocumentAadhaar, true
	case DocumentOther:
		return DocumentOther, true
	}
	return "", false
}

type ReviewStatus string

const (
	StatusPendingReview ReviewStatus = "pending_review"
	StatusApproved      ReviewStatus = "approved"
	StatusRejected      ReviewStatus = "rejected"
)

// CountsTowardCompletion is true for PendingReview or better.
func (s ReviewStatus) CountsTowardCompletion() bool {
	return s == StatusPendingReview || s == StatusApproved
}

type IdentityDocument struct {
	DocumentID      string       `json:"document_id"`
	OwnerID         string       `json:"owner_id"`
	DocumentType    DocumentType `json:"document_type"`
	NumberCipher    string       `json:"-"`
	NumberMasked    string       `json:"document_number,omitempty"`
	BlobPath        string       `json:"-"`
	BlobURL         string       `json:"blob_url"`
	MimeType        string       `json:"mime_type"`
	SizeBytes       int64        `json:"size_bytes"`
	Status          ReviewStatus `json:"status"`
	UploadedAt      time.Time    `json:"uploaded_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	Reviewer        string       `json:"reviewer,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
}

type SelfieVerification struct {
	SelfieID        string       `json:"selfie_id"`
	OwnerID         string       `json:"owner_id"`
	BlobPath        string       `json:"-"`
	BlobURL         string       `json:"blob_url"`
	MimeType        string       `json:"mime_type"`
	SizeBytes       int64        `json:"size_bytes"`
	Status          ReviewStatus `json:"status"`
	UploadedAt      time.Time    `json:"uploaded_at"`
	ReviewedAt      *time.Time   `json:"reviewed_at,omitempty"`
	Reviewer        string       `json:"reviewer,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
}

// Upload is a file handed to intake. MimeType is the sniffed type, not the
// client-declared one.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.Reader
}

// -------------------- VERIFICATION SESSION --------------------

type Stage string

const (
	StageContact  Stage = "contact"
	StageLocation Stage = "location"
	StageIdentity Stage = "identity"
	StageComplete Stage = "complete"
)

var stageOrder = map[Stage]int{
	StageContact:  0,
	StageLocation: 1,
	StageIdentity: 2,
	StageComplete: 3,
}

func (s Stage) Index() int {
	if i, ok := stageOrder[s]; ok {
		return i
	}
	return -1
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

type Session struct {
	SessionID          string          `json:"session_id"`
	OwnerID            string          `json:"owner_id"`
	VenueID            string          `json:"venue_id"`
	Stage              Stage           `json:"stage"`
	ContactIdentifier  string          `json:"contact_identifier,omitempty"`
	ContactChannel     Channel         `json:"contact_channel,omitempty"`
	ContactVerifiedAt  *time.Time      `json:"contact_verified_at,omitempty"`
	LastLocation       *LocationResult `json:"last_location,omitempty"`
	LocationVerifiedAt *time.Time      `json:"location_verified_at,omitempty"`
	DocumentIDs        []string        `json:"document_ids,omitempty"`
	SelfieID           string          `json:"selfie_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// -------------------- USER DIRECTORY --------------------

type UserPhone struct {
	UserID      string `json:"user_id"`
	PhoneNumber string `json:"phone_number"`
}
