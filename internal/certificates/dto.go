package certificates

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
)

// IssueInput carries the student-facing certificate fields.
type IssueInput struct {
	StudentEmail string
	StudentName  string
	CourseName   string
	IssueDate    time.Time
	ExpiryDate   *time.Time
}

// PreviewInput renders a certificate without persisting it.
type PreviewInput struct {
	StudentName string
	CourseName  string
	IssueDate   time.Time
	ExpiryDate  *time.Time
	Format      enums.ArtifactKind
}

// Requester identifies who is asking for an artifact download.
type Requester struct {
	UserID uuid.UUID
	Email  string
	Role   enums.UserRole
}

// ArtifactFile is a rendered or stored certificate file.
type ArtifactFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Summary is the listing projection.
type Summary struct {
	ID               uuid.UUID                `json:"id"`
	UniqueID         string                   `json:"uniqueId"`
	StudentEmail     string                   `json:"studentEmail"`
	StudentName      string                   `json:"studentName"`
	CourseName       string                   `json:"courseName"`
	IssueDate        time.Time                `json:"issueDate"`
	ExpiryDate       *time.Time               `json:"expiryDate,omitempty"`
	Verified         bool                     `json:"verified"`
	IPFSHash         string                   `json:"ipfsHash,omitempty"`
	BlockchainTxHash string                   `json:"blockchainTxHash,omitempty"`
	ProcessingStatus enums.ProcessingStatus   `json:"processingStatus"`
	Processing       models.ProcessingSummary `json:"processing"`
	CreatedAt        time.Time                `json:"createdAt"`
}

// PaymentView exposes the masked payment facts.
type PaymentView struct {
	CardNumber  string     `json:"cardNumber,omitempty"`
	ExpiryMonth string     `json:"expiryMonth,omitempty"`
	ExpiryYear  string     `json:"expiryYear,omitempty"`
	PaymentDate *time.Time `json:"paymentDate,omitempty"`
	Amount      string     `json:"amount,omitempty"`
	Currency    string     `json:"currency,omitempty"`
}

type IPFSView struct {
	IPFSHash      string                 `json:"ipfsHash,omitempty"`
	PDFIPFSHash   string                 `json:"pdfIpfsHash,omitempty"`
	PNGIPFSHash   string                 `json:"pngIpfsHash,omitempty"`
	PDFGatewayURL string                 `json:"pdfGatewayUrl,omitempty"`
	PNGGatewayURL string                 `json:"pngGatewayUrl,omitempty"`
	UploadStatus  enums.IPFSUploadStatus `json:"uploadStatus"`
	UploadDate    *time.Time             `json:"uploadDate,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

type BlockchainView struct {
	BlockchainVerified bool   `json:"blockchainVerified"`
	Fingerprint        string `json:"fingerprint,omitempty"`
	TxHash             string `json:"txHash,omitempty"`
	BlockNumber        *int64 `json:"blockNumber,omitempty"`
	GasUsed            *int64 `json:"gasUsed,omitempty"`
	Error              string `json:"error,omitempty"`
}

// Steps states which pipeline stages have succeeded.
type Steps struct {
	Verified        bool `json:"verified"`
	ContentUploaded bool `json:"contentUploaded"`
	LedgerAnchored  bool `json:"ledgerAnchored"`
}

// Detail is the full masked view of a certificate and its provenance.
type Detail struct {
	ID                   uuid.UUID              `json:"id"`
	UniqueID             string                 `json:"uniqueId"`
	StudentEmail         string                 `json:"studentEmail"`
	StudentName          string                 `json:"studentName"`
	CourseName           string                 `json:"courseName"`
	IssueDate            time.Time              `json:"issueDate"`
	ExpiryDate           *time.Time             `json:"expiryDate,omitempty"`
	Hash                 string                 `json:"hash"`
	Verified             bool                   `json:"verified"`
	Payment              PaymentView            `json:"payment"`
	IPFS                 IPFSView               `json:"ipfs"`
	Blockchain           BlockchainView         `json:"blockchain"`
	Steps                Steps                  `json:"steps"`
	ProcessingStatus     enums.ProcessingStatus `json:"processingStatus"`
	ProcessingError      string                 `json:"processingError,omitempty"`
	ProcessedAt          *time.Time             `json:"processedAt,omitempty"`
	VerificationAttempts int                    `json:"verificationAttempts"`
	AccessCount          int                    `json:"accessCount"`
	FileSize             int64                  `json:"fileSize"`
	MetadataVersion      string                 `json:"metadataVersion"`
	CreatedAt            time.Time              `json:"createdAt"`
	UpdatedAt            time.Time              `json:"updatedAt"`
}

// Preview is the public lookup projection. It carries no payment or ledger internals.
type Preview struct {
	UniqueID    string     `json:"uniqueId"`
	StudentName string     `json:"studentName"`
	CourseName  string     `json:"courseName"`
	IssueDate   time.Time  `json:"issueDate"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	Verified    bool       `json:"verified"`
}

func ToSummary(cert models.Certificate) Summary {
	return Summary{
		ID:               cert.ID,
		UniqueID:         cert.UniqueID,
		StudentEmail:     cert.StudentEmail,
		StudentName:      cert.StudentName,
		CourseName:       cert.CourseName,
		IssueDate:        cert.IssueDate,
		ExpiryDate:       cert.ExpiryDate,
		Verified:         cert.Verified,
		IPFSHash:         cert.PrimaryCID(),
		BlockchainTxHash: cert.BlockchainTxHash,
		ProcessingStatus: cert.ProcessingStatus,
		Processing:       cert.ProcessingSummary(),
		CreatedAt:        cert.CreatedAt,
	}
}

// ToPublic builds the masked detail view. Only the stored masked card is exposed.
func ToPublic(cert models.Certificate) Detail {
	payment := PaymentView{
		CardNumber:  cert.PaymentCardMasked,
		ExpiryMonth: cert.PaymentExpiryMonth,
		ExpiryYear:  cert.PaymentExpiryYear,
		PaymentDate: cert.PaymentDate,
		Currency:    cert.PaymentCurrency,
	}
	if cert.PaymentAmount.Valid {
		payment.Amount = cert.PaymentAmount.Decimal.StringFixed(2)
	}
	summary := cert.ProcessingSummary()

	return Detail{
		ID:           cert.ID,
		UniqueID:     cert.UniqueID,
		StudentEmail: cert.StudentEmail,
		StudentName:  cert.StudentName,
		CourseName:   cert.CourseName,
		IssueDate:    cert.IssueDate,
		ExpiryDate:   cert.ExpiryDate,
		Hash:         cert.Hash,
		Verified:     cert.Verified,
		Payment:      payment,
		IPFS: IPFSView{
			IPFSHash:      cert.PrimaryCID(),
			PDFIPFSHash:   cert.PDFIPFSHash,
			PNGIPFSHash:   cert.PNGIPFSHash,
			PDFGatewayURL: cert.PDFGatewayURL,
			PNGGatewayURL: cert.PNGGatewayURL,
			UploadStatus:  cert.IPFSUploadStatus,
			UploadDate:    cert.IPFSUploadDate,
			Error:         cert.IPFSError,
		},
		Blockchain: BlockchainView{
			BlockchainVerified: cert.BlockchainVerified,
			Fingerprint:        cert.LedgerFingerprint,
			TxHash:             cert.BlockchainTxHash,
			BlockNumber:        cert.BlockNumber,
			GasUsed:            cert.GasUsed,
			Error:              cert.BlockchainError,
		},
		Steps: Steps{
			Verified:        summary.Verified,
			ContentUploaded: summary.ContentUploaded,
			LedgerAnchored:  summary.LedgerAnchored,
		},
		ProcessingStatus:     cert.ProcessingStatus,
		ProcessingError:      cert.ProcessingError,
		ProcessedAt:          cert.ProcessedAt,
		VerificationAttempts: cert.VerificationAttempts,
		AccessCount:          cert.AccessCount,
		FileSize:             cert.FileSize(),
		MetadataVersion:      cert.MetadataVersion,
		CreatedAt:            cert.CreatedAt,
		UpdatedAt:            cert.UpdatedAt,
	}
}

func ToPreview(cert models.Certificate) Preview {
	return Preview{
		UniqueID:    cert.UniqueID,
		StudentName: cert.StudentName,
		CourseName:  cert.CourseName,
		IssueDate:   cert.IssueDate,
		ExpiryDate:  cert.ExpiryDate,
		Verified:    cert.Verified,
	}
}
