package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// PackageRepository provides access to packages and their content rows
type PackageRepository interface {
	CreatePackage(ctx context.Context, pkg *entities.Package) error
	GetPackage(ctx context.Context, id uuid.UUID) (*entities.Package, error)
	GetPackageByBarcode(ctx context.Context, barcode string) (*entities.Package, error)
	UpdatePackage(ctx context.Context, pkg *entities.Package) error
	ListPackagesBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.Package, error)
	// NextBarcodeNumber returns the next number of the barcode sequence, never below start
	NextBarcodeNumber(ctx context.Context, start int64) (int64, error)

	GetContent(ctx context.Context, id uuid.UUID) (*entities.PackageContent, error)
	// FindContent returns the row for (package, item) or nil when the item is not packed
	FindContent(ctx context.Context, packageID uuid.UUID, itemCode entities.ItemCode) (*entities.PackageContent, error)
	ListContents(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageContent, error)
	SaveContent(ctx context.Context, content *entities.PackageContent) error
	DeleteContent(ctx context.Context, id uuid.UUID) error
}
