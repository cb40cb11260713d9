package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/originhash-backend/pkg/enums"
)

// CertificateIssuedEvent is emitted when an admin issues a certificate.
type CertificateIssuedEvent struct {
	CertificateID uuid.UUID  `json:"certificate_id"`
	UniqueID      string     `json:"unique_id"`
	StudentEmail  string     `json:"student_email"`
	StudentName   string     `json:"student_name"`
	CourseName    string     `json:"course_name"`
	IssueDate     time.Time  `json:"issue_date"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	IssuerID      *uuid.UUID `json:"issuer_id,omitempty"`
}

// CertificateVerifiedEvent is emitted once payment and content upload have succeeded.
type CertificateVerifiedEvent struct {
	CertificateID    uuid.UUID              `json:"certificate_id"`
	UniqueID         string                 `json:"unique_id"`
	StudentEmail     string                 `json:"student_email"`
	IPFSHash         string                 `json:"ipfs_hash"`
	UploadStatus     enums.IPFSUploadStatus `json:"upload_status"`
	ProcessingStatus enums.ProcessingStatus `json:"processing_status"`
	VerifiedAt       time.Time              `json:"verified_at"`
}

// CertificateAnchoredEvent carries the ledger receipt for a confirmed anchor.
type CertificateAnchoredEvent struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	UniqueID      string    `json:"unique_id"`
	Fingerprint   string    `json:"fingerprint"`
	IPFSHash      string    `json:"ipfs_hash"`
	TxHash        string    `json:"tx_hash,omitempty"`
	BlockNumber   *int64    `json:"block_number,omitempty"`
	GasUsed       *int64    `json:"gas_used,omitempty"`
	Reconciled    bool      `json:"reconciled"`
}

// CertificateAnchorFailedEvent records a ledger failure that left the certificate partial.
type CertificateAnchorFailedEvent struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	UniqueID      string    `json:"unique_id"`
	Fingerprint   string    `json:"fingerprint"`
	IPFSHash      string    `json:"ipfs_hash"`
	Reason        string    `json:"reason"`
}

// CertificateUploadFailedEvent records that neither artifact could be pinned.
type CertificateUploadFailedEvent struct {
	CertificateID uuid.UUID `json:"certificate_id"`
	UniqueID      string    `json:"unique_id"`
	Reason        string    `json:"reason"`
}
