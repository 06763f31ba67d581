package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

const barcodeSequence = "package"

// CreatePackage inserts a new package; barcodes must be unique
func (s *Store) CreatePackage(ctx context.Context, pkg *entities.Package) error {
	if err := s.conn(ctx).Create(toPackageModel(pkg)).Error; err != nil {
		if isDuplicate(err) {
			return entities.NewStateConflictError(entities.CodeInvalidInput, "barcode %s already issued", pkg.Barcode)
		}
		return fmt.Errorf("failed to insert package: %w", err)
	}
	return nil
}

// GetPackage loads a package, locking its row inside a transaction
func (s *Store) GetPackage(ctx context.Context, id uuid.UUID) (*entities.Package, error) {
	var m PackageModel
	if err := s.locking(ctx).First(&m, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", id)
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	return m.toEntity(), nil
}

func (s *Store) GetPackageByBarcode(ctx context.Context, barcode string) (*entities.Package, error) {
	var m PackageModel
	if err := s.locking(ctx).First(&m, "barcode = ?", barcode).Error; err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", barcode)
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	return m.toEntity(), nil
}

// UpdatePackage saves every column except the barcode
func (s *Store) UpdatePackage(ctx context.Context, pkg *entities.Package) error {
	res := s.conn(ctx).Model(&PackageModel{ID: pkg.ID}).Select("*").Omit("id", "barcode", "created_at").Updates(toPackageModel(pkg))
	if res.Error != nil {
		return fmt.Errorf("failed to update package: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", pkg.ID)
	}
	return nil
}

func (s *Store) ListPackagesBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.Package, error) {
	var rows []PackageModel
	err := s.conn(ctx).
		Where("source_type = ? AND source_id = ?", string(source.Type), source.ID).
		Order("barcode").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	out := make([]*entities.Package, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

// NextBarcodeNumber advances the sequence row under a row lock
func (s *Store) NextBarcodeNumber(ctx context.Context, start int64) (int64, error) {
	var next int64
	err := s.RunInTx(ctx, func(ctx context.Context) error {
		tx := s.conn(ctx)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&BarcodeSequenceModel{Name: barcodeSequence, Value: start - 1}).Error; err != nil {
			return err
		}

		var seq BarcodeSequenceModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seq, "name = ?", barcodeSequence).Error; err != nil {
			return err
		}
		next = seq.Value + 1
		if next < start {
			next = start
		}
		return tx.Model(&seq).Update("value", next).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to advance barcode sequence: %w", err)
	}
	return next, nil
}

func (s *Store) GetContent(ctx context.Context, id uuid.UUID) (*entities.PackageContent, error) {
	var m ContentModel
	if err := s.locking(ctx).First(&m, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, entities.NewNotFoundError(entities.CodeContentNotFound, "content %s not found", id)
		}
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	return m.toEntity(), nil
}

// FindContent returns nil without error when the package holds none of the item
func (s *Store) FindContent(ctx context.Context, packageID uuid.UUID, itemCode entities.ItemCode) (*entities.PackageContent, error) {
	var m ContentModel
	err := s.locking(ctx).First(&m, "package_id = ? AND item_code = ?", packageID, string(itemCode)).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	return m.toEntity(), nil
}

func (s *Store) ListContents(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageContent, error) {
	var rows []ContentModel
	if err := s.conn(ctx).Where("package_id = ?", packageID).Order("item_code").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list contents: %w", err)
	}
	out := make([]*entities.PackageContent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

// SaveContent inserts or replaces a content row
func (s *Store) SaveContent(ctx context.Context, content *entities.PackageContent) error {
	if err := s.conn(ctx).Save(toContentModel(content)).Error; err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}
	return nil
}

func (s *Store) DeleteContent(ctx context.Context, id uuid.UUID) error {
	return deleteWhere(s.conn(ctx), &ContentModel{}, "id = ?", id)
}

func deleteWhere(tx *gorm.DB, model any, query string, args ...any) error {
	if err := tx.Where(query, args...).Delete(model).Error; err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}
