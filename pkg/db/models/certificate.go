package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/originhash-backend/pkg/enums"
)

// CurrentMetadataVersion is stamped on records rendered by this build.
const CurrentMetadataVersion = "1.0"

// Certificate is the issued credential plus the provenance state owned by verification.
type Certificate struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UniqueID     string     `gorm:"column:unique_id;not null;uniqueIndex"`
	IssuerID     *uuid.UUID `gorm:"column:issuer_id;type:uuid"`
	StudentEmail string     `gorm:"column:student_email;not null"`
	StudentName  string     `gorm:"column:student_name;not null"`
	CourseName   string     `gorm:"column:course_name;not null"`
	IssueDate    time.Time  `gorm:"column:issue_date;not null"`
	ExpiryDate   *time.Time `gorm:"column:expiry_date"`
	Hash         string     `gorm:"column:hash;not null"`
	ImageKey     string     `gorm:"column:image_key;not null"`
	DocumentKey  string     `gorm:"column:document_key;not null"`

	Verified           bool                `gorm:"column:verified;not null;default:false"`
	PaymentCardMasked  string              `gorm:"column:payment_card_masked;not null;default:''"`
	PaymentExpiryMonth string              `gorm:"column:payment_expiry_month;not null;default:''"`
	PaymentExpiryYear  string              `gorm:"column:payment_expiry_year;not null;default:''"`
	PaymentDate        *time.Time          `gorm:"column:payment_date"`
	PaymentAmount      decimal.NullDecimal `gorm:"column:payment_amount;type:numeric(12,2)"`
	PaymentCurrency    string              `gorm:"column:payment_currency;not null;default:''"`

	IPFSHash         string                 `gorm:"column:ipfs_hash;not null;default:''"`
	PDFIPFSHash      string                 `gorm:"column:pdf_ipfs_hash;not null;default:''"`
	PNGIPFSHash      string                 `gorm:"column:png_ipfs_hash;not null;default:''"`
	PDFGatewayURL    string                 `gorm:"column:pdf_gateway_url;not null;default:''"`
	PNGGatewayURL    string                 `gorm:"column:png_gateway_url;not null;default:''"`
	IPFSUploadStatus enums.IPFSUploadStatus `gorm:"column:ipfs_upload_status;type:ipfs_upload_status;not null;default:'pending'"`
	IPFSUploadDate   *time.Time             `gorm:"column:ipfs_upload_date"`
	IPFSError        string                 `gorm:"column:ipfs_error;not null;default:''"`

	LedgerFingerprint  string `gorm:"column:ledger_fingerprint;not null;default:''"`
	BlockchainVerified bool   `gorm:"column:blockchain_verified;not null;default:false"`
	BlockchainTxHash   string `gorm:"column:blockchain_tx_hash;not null;default:''"`
	BlockNumber        *int64 `gorm:"column:block_number"`
	GasUsed            *int64 `gorm:"column:gas_used"`
	BlockchainError    string `gorm:"column:blockchain_error;not null;default:''"`

	ProcessingStatus     enums.ProcessingStatus `gorm:"column:processing_status;type:processing_status;not null;default:'not_processed'"`
	ProcessingError      string                 `gorm:"column:processing_error;not null;default:''"`
	ProcessingStartedAt  *time.Time             `gorm:"column:processing_started_at"`
	ProcessedAt          *time.Time             `gorm:"column:processed_at"`
	VerificationAttempts int                    `gorm:"column:verification_attempts;not null;default:0"`
	LastVerificationDate *time.Time             `gorm:"column:last_verification_date"`
	AccessCount          int                    `gorm:"column:access_count;not null;default:0"`
	LastAccessDate       *time.Time             `gorm:"column:last_access_date"`

	PNGSize         int64  `gorm:"column:png_size;not null;default:0"`
	PDFSize         int64  `gorm:"column:pdf_size;not null;default:0"`
	IPFSSize        int64  `gorm:"column:ipfs_size;not null;default:0"`
	MetadataVersion string `gorm:"column:metadata_version;not null;default:'1.0'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Certificate) TableName() string {
	return "certificates"
}

// Fingerprint is the value bound to the content identifier on the ledger.
func (c Certificate) Fingerprint() string {
	return c.ID.String()
}

// PrimaryCID prefers the document identifier and falls back to the image.
func (c Certificate) PrimaryCID() string {
	if c.IPFSHash != "" {
		return c.IPFSHash
	}
	if c.PDFIPFSHash != "" {
		return c.PDFIPFSHash
	}
	return c.PNGIPFSHash
}

// HasContent reports whether at least one artifact has been pinned.
func (c Certificate) HasContent() bool {
	return c.PrimaryCID() != ""
}

// FileSize is the combined size of both rendered artifacts.
func (c Certificate) FileSize() int64 {
	return c.PNGSize + c.PDFSize
}

// IsFullyProcessed reports whether every stage of the pipeline has succeeded.
func (c Certificate) IsFullyProcessed() bool {
	return c.Verified && c.HasContent() && c.BlockchainVerified
}

// ProcessingSummary is a compact per-stage view used by listings and logs.
type ProcessingSummary struct {
	Verified          bool                   `json:"verified"`
	ContentUploaded   bool                   `json:"contentUploaded"`
	LedgerAnchored    bool                   `json:"ledgerAnchored"`
	FullyProcessed    bool                   `json:"fullyProcessed"`
	ProcessingStatus  enums.ProcessingStatus `json:"processingStatus"`
	UploadStatus      enums.IPFSUploadStatus `json:"uploadStatus"`
	LastProcessedAt   *time.Time             `json:"lastProcessedAt,omitempty"`
	AttemptsRecorded  int                    `json:"attempts"`
	LedgerFingerprint string                 `json:"ledgerFingerprint,omitempty"`
}

func (c Certificate) ProcessingSummary() ProcessingSummary {
	return ProcessingSummary{
		Verified:          c.Verified,
		ContentUploaded:   c.HasContent(),
		LedgerAnchored:    c.BlockchainVerified,
		FullyProcessed:    c.IsFullyProcessed(),
		ProcessingStatus:  c.ProcessingStatus,
		UploadStatus:      c.IPFSUploadStatus,
		LastProcessedAt:   c.ProcessedAt,
		AttemptsRecorded:  c.VerificationAttempts,
		LedgerFingerprint: c.LedgerFingerprint,
	}
}
