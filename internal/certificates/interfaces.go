package certificates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/originhash-backend/pkg/db/models"
	"github.com/angelmondragon/originhash-backend/pkg/pagination"
)

// Repository persists certificate records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, cert *models.Certificate) error
	Save(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error)
	FindByUniqueID(ctx context.Context, uniqueID string) (*models.Certificate, error)
	FindByContentID(ctx context.Context, contentID string) (*models.Certificate, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	IncrementAccess(ctx context.Context, id uuid.UUID, now time.Time) error
	ListByStudentEmail(ctx context.Context, email string, params ListParams) ([]models.Certificate, error)
	ListAll(ctx context.Context, params ListParams) ([]models.Certificate, error)
	ListVerified(ctx context.Context, params ListParams) ([]models.Certificate, error)
	ListByIssuer(ctx context.Context, issuerID uuid.UUID, params ListParams) ([]models.Certificate, error)
	ListVerifiedByIssuer(ctx context.Context, issuerID uuid.UUID, params ListParams) ([]models.Certificate, error)
	ListStuck(ctx context.Context, startedBefore time.Time, limit int) ([]models.Certificate, error)
	ListPartial(ctx context.Context, limit int) ([]models.Certificate, error)
}

// ListParams is the repository form of a cursor request. Limit already includes the lookahead row.
type ListParams struct {
	Limit  int
	Cursor *pagination.Cursor
}
