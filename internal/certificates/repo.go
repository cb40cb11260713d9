package certificates

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/internal/repo"
	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/enums"
)

type repository struct {
	repo.Base
}

// NewRepository builds the gorm-backed certificate repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Rebind(tx)}
}

func (r *repository) Create(ctx context.Context, cert *models.Certificate) error {
	if cert.ID == uuid.Nil {
		cert.ID = uuid.New()
	}
	return r.DB(ctx).Create(cert).Error
}

// savedOmit are the columns Save leaves alone. The access counters belong to IncrementAccess.
var savedOmit = []string{"access_count", "last_access_date", "created_at"}

// Save writes the pipeline columns of cert, zero values included.
func (r *repository) Save(ctx context.Context, cert *models.Certificate) error {
	return r.DB(ctx).
		Model(cert).
		Select("*").
		Omit(savedOmit...).
		Updates(cert).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	return repo.FindOne[models.Certificate](ctx, r.Base, "id = ?", id)
}

func (r *repository) FindByUniqueID(ctx context.Context, uniqueID string) (*models.Certificate, error) {
	return repo.FindOne[models.Certificate](ctx, r.Base, "unique_id = ?", strings.TrimSpace(uniqueID))
}

// FindByContentID matches the primary, document or image content identifier.
func (r *repository) FindByContentID(ctx context.Context, contentID string) (*models.Certificate, error) {
	cid := strings.TrimSpace(contentID)
	if cid == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var cert models.Certificate
	err := r.DB(ctx).
		Where("ipfs_hash = ? OR pdf_ipfs_hash = ? OR png_ipfs_hash = ?", cid, cid, cid).
		Order("created_at DESC").
		First(&cert).Error
	if err != nil {
		return nil, err
	}
	return &cert, nil
}

// Claim moves a claimable record into processing. It reports false when
// another attempt already holds the record or it has settled.
func (r *repository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.DB(ctx).
		Model(&models.Certificate{}).
		Where("id = ? AND processing_status IN ?", id, enums.ClaimableProcessingStatuses).
		Updates(map[string]any{
			"processing_status":      enums.ProcessingStatusProcessing,
			"processing_started_at":  now,
			"verification_attempts":  gorm.Expr("verification_attempts + 1"),
			"last_verification_date": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) IncrementAccess(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.DB(ctx).
		Model(&models.Certificate{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_access_date": now,
		}).Error
}

func (r *repository) ListByStudentEmail(ctx context.Context, email string, params ListParams) ([]models.Certificate, error) {
	query := r.DB(ctx).Where("student_email = ?", strings.ToLower(strings.TrimSpace(email)))
	return r.list(query, params)
}

func (r *repository) ListAll(ctx context.Context, params ListParams) ([]models.Certificate, error) {
	return r.list(r.DB(ctx), params)
}

func (r *repository) ListVerified(ctx context.Context, params ListParams) ([]models.Certificate, error) {
	return r.list(r.DB(ctx).Where("verified = ?", true), params)
}

// ListByIssuer pages through certificates issued by one admin.
func (r *repository) ListByIssuer(ctx context.Context, issuerID uuid.UUID, params ListParams) ([]models.Certificate, error) {
	return r.list(r.DB(ctx).Where("issuer_id = ?", issuerID), params)
}

func (r *repository) ListVerifiedByIssuer(ctx context.Context, issuerID uuid.UUID, params ListParams) ([]models.Certificate, error) {
	return r.list(r.DB(ctx).Where("issuer_id = ? AND verified = ?", issuerID, true), params)
}

func (r *repository) list(query *gorm.DB, params ListParams) ([]models.Certificate, error) {
	var certs []models.Certificate
	query = repo.KeysetPage(query.Model(&models.Certificate{}), params.Cursor, params.Limit)
	if err := query.Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// ListStuck returns processing records whose attempt started before the cutoff.
func (r *repository) ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := r.DB(ctx).
		Where("processing_status = ? AND processing_started_at < ?", enums.ProcessingStatusProcessing, startedBefore).
		Order("processing_started_at ASC").
		Limit(limit).
		Find(&certs).Error
	return certs, err
}

// ListPartial returns paid and uploaded records still missing a ledger anchor.
func (r *repository) ListPartial(ctx context.Context, limit int) ([]models.Certificate, error) {
	var certs []models.Certificate
	err := r.DB(ctx).
		Where("processing_status = ?", enums.ProcessingStatusPartial).
		Order("processed_at ASC").
		Limit(limit).
		Find(&certs).Error
	return certs, err
}
