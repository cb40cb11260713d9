package certificates

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/artifacts"
	"github.com/angelmondragon/originhash-backend/pkg/db"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/originhash-backend/pkg/errors"
	"github.com/angelmondragon/originhash-backend/pkg/logger"
	"github.com/angelmondragon/originhash-backend/pkg/outbox"
	"github.com/angelmondragon/originhash-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/originhash-backend/pkg/pagination"
	"github.com/angelmondragon/originhash-backend/pkg/storage"
)

const (
	minTextLen = 2
	maxTextLen = 200

	previewUniqueID = "PREVIEW"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes issuance, listings and artifact access.
type Service interface {
	Issue(ctx context.Context, issuerID uuid.UUID, input IssueInput) (*Detail, error)
	Preview(ctx context.Context, input PreviewInput) (*ArtifactFile, error)
	ListMine(ctx context.Context, studentEmail string, params pagination.Params) (pagination.Page[Summary], error)
	ListAll(ctx context.Context, params pagination.Params) (pagination.Page[Summary], error)
	ListVerified(ctx context.Context, params pagination.Params) (pagination.Page[Summary], error)
	ListIssued(ctx context.Context, issuerID uuid.UUID, params pagination.Params) (pagination.Page[Summary], error)
	ListIssuedVerified(ctx context.Context, issuerID uuid.UUID, params pagination.Params) (pagination.Page[Summary], error)
	Get(ctx context.Context, uniqueID string) (*Detail, error)
	FindByContentID(ctx context.Context, contentID string) (*Detail, error)
	Artifact(ctx context.Context, uniqueID string, kind enums.ArtifactKind, requester Requester) (*ArtifactFile, error)
}

type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Outbox    outboxPublisher
	Storage   storage.Store
	Generator artifacts.Generator
	Logger    *logger.Logger
	Now       func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	storage   storage.Store
	generator artifacts.Generator
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, errors.New("certificate repository required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	if params.Storage == nil {
		return nil, errors.New("artifact storage required")
	}
	if params.Generator == nil {
		return nil, errors.New("artifact generator required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		storage:   params.Storage,
		generator: params.Generator,
		logg:      params.Logger,
		now:       now,
	}, nil
}

// ComputeHash is the content hash stored on the record: sha256 over email, course and identifier.
func ComputeHash(studentEmail, courseName, uniqueID string) string {
	sum := sha256.Sum256([]byte(studentEmail + courseName + uniqueID))
	return hex.EncodeToString(sum[:])
}

func (s *service) Issue(ctx context.Context, issuerID uuid.UUID, input IssueInput) (*Detail, error) {
	input, err := normalizeIssueInput(input)
	if err != nil {
		return nil, err
	}

	cert := models.Certificate{
		ID:               uuid.New(),
		UniqueID:         uuid.NewString(),
		StudentEmail:     input.StudentEmail,
		StudentName:      input.StudentName,
		CourseName:       input.CourseName,
		IssueDate:        input.IssueDate,
		ExpiryDate:       input.ExpiryDate,
		IPFSUploadStatus: enums.IPFSUploadStatusPending,
		ProcessingStatus: enums.ProcessingStatusNotProcessed,
		MetadataVersion:  models.CurrentMetadataVersion,
	}
	if issuerID != uuid.Nil {
		issuer := issuerID
		cert.IssuerID = &issuer
	}
	cert.Hash = ComputeHash(cert.StudentEmail, cert.CourseName, cert.UniqueID)
	cert.ImageKey = artifacts.ImageKey(cert.UniqueID)
	cert.DocumentKey = artifacts.DocumentKey(cert.UniqueID)

	ctx = s.logg.WithCertificate(ctx, cert.UniqueID)

	rendered, err := s.generator.Generate(ctx, artifacts.Fields{
		UniqueID:    cert.UniqueID,
		StudentName: cert.StudentName,
		CourseName:  cert.CourseName,
		IssueDate:   cert.IssueDate,
		ExpiryDate:  cert.ExpiryDate,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render certificate")
	}
	cert.PNGSize = int64(len(rendered.PNG))
	cert.PDFSize = int64(len(rendered.PDF))

	if err := s.storage.Put(ctx, cert.ImageKey, artifacts.ContentTypePNG, rendered.PNG); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store certificate image")
	}
	if err := s.storage.Put(ctx, cert.DocumentKey, artifacts.ContentTypePDF, rendered.PDF); err != nil {
		s.discardArtifacts(ctx, cert.ImageKey)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store certificate document")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &cert); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCertificateIssued,
			AggregateType: enums.AggregateCertificate,
			AggregateID:   cert.ID,
			Subject:       cert.UniqueID,
			Actor:         actorRef(cert.IssuerID),
			Data: payloads.CertificateIssuedEvent{
				CertificateID: cert.ID,
				UniqueID:      cert.UniqueID,
				StudentEmail:  cert.StudentEmail,
				StudentName:   cert.StudentName,
				CourseName:    cert.CourseName,
				IssueDate:     cert.IssueDate,
				ExpiryDate:    cert.ExpiryDate,
				IssuerID:      cert.IssuerID,
			},
		})
	})
	if err != nil {
		s.discardArtifacts(ctx, cert.ImageKey, cert.DocumentKey)
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "certificate already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist certificate")
	}

	s.logg.Info(ctx, "certificate issued")
	detail := ToPublic(cert)
	return &detail, nil
}

func (s *service) discardArtifacts(ctx context.Context, keys ...string) {
	var errs error
	for _, key := range keys {
		errs = multierr.Append(errs, s.storage.Delete(ctx, key))
	}
	if errs != nil {
		s.logg.Error(ctx, "failed to discard certificate artifacts", errs)
	}
}

func actorRef(issuerID *uuid.UUID) *outbox.ActorRef {
	if issuerID == nil {
		return nil
	}
	return &outbox.ActorRef{UserID: *issuerID, Role: enums.UserRoleAdmin.String()}
}

func (s *service) Preview(ctx context.Context, input PreviewInput) (*ArtifactFile, error) {
	name, err := requireText("studentName", input.StudentName)
	if err != nil {
		return nil, err
	}
	course, err := requireText("courseName", input.CourseName)
	if err != nil {
		return nil, err
	}
	issueDate := input.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now().UTC().Truncate(24 * time.Hour)
	}
	if err := validateExpiry(issueDate, input.ExpiryDate); err != nil {
		return nil, err
	}
	format := input.Format
	if format == "" {
		format = enums.ArtifactKindPNG
	}
	if !format.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "format must be png or pdf")
	}

	rendered, err := s.generator.Generate(ctx, artifacts.Fields{
		UniqueID:    previewUniqueID,
		StudentName: name,
		CourseName:  course,
		IssueDate:   issueDate,
		ExpiryDate:  input.ExpiryDate,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render preview")
	}

	data := rendered.PNG
	if format == enums.ArtifactKindPDF {
		data = rendered.PDF
	}
	return &ArtifactFile{
		Filename:    "certificate-preview." + format.String(),
		ContentType: format.ContentType(),
		Data:        data,
	}, nil
}

func (s *service) ListMine(ctx context.Context, studentEmail string, params pagination.Params) (pagination.Page[Summary], error) {
	email := strings.ToLower(strings.TrimSpace(studentEmail))
	if email == "" {
		return pagination.Page[Summary]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user email missing")
	}
	return s.listPage(params, func(lp ListParams) ([]models.Certificate, error) {
		return s.repo.ListByStudentEmail(ctx, email, lp)
	})
}

func (s *service) ListAll(ctx context.Context, params pagination.Params) (pagination.Page[Summary], error) {
	return s.listPage(params, func(lp ListParams) ([]models.Certificate, error) {
		return s.repo.ListAll(ctx, lp)
	})
}

func (s *service) ListVerified(ctx context.Context, params pagination.Params) (pagination.Page[Summary], error) {
	return s.listPage(params, func(lp ListParams) ([]models.Certificate, error) {
		return s.repo.ListVerified(ctx, lp)
	})
}

// ListIssued pages through the certificates issuerID created.
func (s *service) ListIssued(ctx context.Context, issuerID uuid.UUID, params pagination.Params) (pagination.Page[Summary], error) {
	if issuerID == uuid.Nil {
		return pagination.Page[Summary]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "issuer identity missing")
	}
	return s.listPage(params, func(lp ListParams) ([]models.Certificate, error) {
		return s.repo.ListByIssuer(ctx, issuerID, lp)
	})
}

func (s *service) ListIssuedVerified(ctx context.Context, issuerID uuid.UUID, params pagination.Params) (pagination.Page[Summary], error) {
	if issuerID == uuid.Nil {
		return pagination.Page[Summary]{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "issuer identity missing")
	}
	return s.listPage(params, func(lp ListParams) ([]models.Certificate, error) {
		return s.repo.ListVerifiedByIssuer(ctx, issuerID, lp)
	})
}

func (s *service) listPage(params pagination.Params, fetch func(ListParams) ([]models.Certificate, error)) (pagination.Page[Summary], error) {
	lp := ListParams{Limit: pagination.LimitWithBuffer(params.Limit)}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return pagination.Page[Summary]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		lp.Cursor = cursor
	}

	rows, err := fetch(lp)
	if err != nil {
		return pagination.Page[Summary]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list certificates")
	}

	summaries := make([]Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, ToSummary(row))
	}
	return pagination.BuildPage(summaries, params.Limit, func(item Summary) pagination.Cursor {
		return pagination.Cursor{CreatedAt: item.CreatedAt, ID: item.ID}
	}), nil
}

func (s *service) Get(ctx context.Context, uniqueID string) (*Detail, error) {
	cert, err := s.load(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	detail := ToPublic(*cert)
	return &detail, nil
}

// FindByContentID resolves a pinned document or image back to its certificate.
func (s *service) FindByContentID(ctx context.Context, contentID string) (*Detail, error) {
	cid := strings.TrimSpace(contentID)
	if cid == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "content id is required")
	}
	cert, err := s.repo.FindByContentID(ctx, cid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no certificate holds this content id")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find certificate by content id")
	}
	detail := ToPublic(*cert)
	return &detail, nil
}

func (s *service) Artifact(ctx context.Context, uniqueID string, kind enums.ArtifactKind, requester Requester) (*ArtifactFile, error) {
	if !kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "kind must be png or pdf")
	}
	cert, err := s.load(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	if !requester.Role.CanIssue() && !strings.EqualFold(requester.Email, cert.StudentEmail) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "certificate belongs to another student")
	}

	key := cert.ImageKey
	if kind == enums.ArtifactKindPDF {
		key = cert.DocumentKey
	}
	data, err := s.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "certificate artifact not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read certificate artifact")
	}
	return &ArtifactFile{
		Filename:    fmt.Sprintf("certificate-%s.%s", cert.UniqueID, kind),
		ContentType: kind.ContentType(),
		Data:        data,
	}, nil
}

func (s *service) load(ctx context.Context, uniqueID string) (*models.Certificate, error) {
	id := strings.TrimSpace(uniqueID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "uniqueId is required")
	}
	cert, err := s.repo.FindByUniqueID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "certificate not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load certificate")
	}
	return cert, nil
}

func normalizeIssueInput(input IssueInput) (IssueInput, error) {
	email := strings.ToLower(strings.TrimSpace(input.StudentEmail))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "studentEmail must be a valid email").
			WithDetails(map[string]any{"field": "studentEmail"})
	}
	name, err := requireText("studentName", input.StudentName)
	if err != nil {
		return input, err
	}
	course, err := requireText("courseName", input.CourseName)
	if err != nil {
		return input, err
	}
	if input.IssueDate.IsZero() {
		return input, pkgerrors.New(pkgerrors.CodeValidation, "issueDate is required").
			WithDetails(map[string]any{"field": "issueDate"})
	}
	if err := validateExpiry(input.IssueDate, input.ExpiryDate); err != nil {
		return input, err
	}
	input.StudentEmail = email
	input.StudentName = name
	input.CourseName = course
	input.IssueDate = input.IssueDate.UTC()
	if input.ExpiryDate != nil {
		expiry := input.ExpiryDate.UTC()
		input.ExpiryDate = &expiry
	}
	return input, nil
}

func requireText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	n := utf8.RuneCountInString(trimmed)
	if n < minTextLen || n > maxTextLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%s must be between %d and %d characters", field, minTextLen, maxTextLen)).
			WithDetails(map[string]any{"field": field})
	}
	return trimmed, nil
}

func validateExpiry(issue time.Time, expiry *time.Time) error {
	if expiry != nil && !expiry.After(issue) {
		return pkgerrors.New(pkgerrors.CodeValidation, "expiryDate must be after issueDate").
			WithDetails(map[string]any{"field": "expiryDate"})
	}
	return nil
}
