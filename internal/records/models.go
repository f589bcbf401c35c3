package records

import (
	"encoding/json"
	"time"

	"consentis/pkg/domain"
)

// ConsentStatus is the derived per-researcher view of a record's consent.
// It is joined from on-chain state at read time, never stored on the record.
type ConsentStatus string

const (
	ConsentGranted ConsentStatus = "granted"
	ConsentRevoked ConsentStatus = "revoked"
	ConsentNone    ConsentStatus = ""
)

// Record is the unit of patient data. Immutable once created; the plaintext
// and key material stay with the patient, the system only ever holds the
// ciphertext and its metadata.
type Record struct {
	ID             domain.RecordID       `json:"id"`
	Name           string                `json:"name"`
	StorageAddress domain.ContentAddress `json:"ipfs_cid"`
	CipherDigest   string                `json:"data_to_encrypt_hash"`
	AccessPolicy   json.RawMessage       `json:"acc_json"`
	OwnerAddress   domain.Address        `json:"patient_address"`
	CreatedAt      time.Time             `json:"created_at"`
}

// ResearcherRecord is a Record as observed by a specific researcher.
type ResearcherRecord struct {
	Record
	ConsentStatus     ConsentStatus `json:"consent_status"`
	LastConsentChange *time.Time    `json:"last_updated_consent"`
}

// CreateResult is the backend's answer to a record creation.
type CreateResult struct {
	Message        string                `json:"message"`
	ContentAddress domain.ContentAddress `json:"cid"`
}

// DecryptedFile wraps released plaintext as a named file.
type DecryptedFile struct {
	Name string
	MIME string
	Data []byte
}

// DefaultMIME is used when no content type was recorded for a file.
const DefaultMIME = "application/octet-stream"
