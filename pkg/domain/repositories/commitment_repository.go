package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// CommitmentRepository provides access to package commitments
type CommitmentRepository interface {
	CreateCommitment(ctx context.Context, commitment *entities.PackageCommitment) error
	GetCommitment(ctx context.Context, id uuid.UUID) (*entities.PackageCommitment, error)
	UpdateCommitment(ctx context.Context, commitment *entities.PackageCommitment) error
	DeleteCommitment(ctx context.Context, id uuid.UUID) error
	ListCommitmentsByContent(ctx context.Context, contentID uuid.UUID) ([]*entities.PackageCommitment, error)
	ListCommitmentsByPackage(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageCommitment, error)
	ListCommitmentsBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.PackageCommitment, error)
	ListCommitmentsBySourceLine(ctx context.Context, source entities.SourceOperation, lineID int64) ([]*entities.PackageCommitment, error)
}
