package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// CreatePackage stores a new package; barcodes must be unique
func (s *Store) CreatePackage(ctx context.Context, pkg *entities.Package) error {
	return s.view(ctx, func(st *state) error {
		if _, exists := st.packages[pkg.ID]; exists {
			return fmt.Errorf("package %s already exists", pkg.ID)
		}
		if _, exists := st.barcodes[pkg.Barcode]; exists {
			return fmt.Errorf("barcode %s already issued", pkg.Barcode)
		}
		stored := *pkg
		stored.Attributes = copyAttributes(pkg.Attributes)
		st.packages[pkg.ID] = stored
		st.barcodes[pkg.Barcode] = pkg.ID
		return nil
	})
}

// GetPackage returns a copy of the package with the given id
func (s *Store) GetPackage(ctx context.Context, id uuid.UUID) (*entities.Package, error) {
	var out *entities.Package
	err := s.view(ctx, func(st *state) error {
		pkg, ok := st.packages[id]
		if !ok {
			return entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", id)
		}
		pkg.Attributes = copyAttributes(pkg.Attributes)
		out = &pkg
		return nil
	})
	return out, err
}

// GetPackageByBarcode returns a copy of the package issued with barcode
func (s *Store) GetPackageByBarcode(ctx context.Context, barcode string) (*entities.Package, error) {
	var out *entities.Package
	err := s.view(ctx, func(st *state) error {
		id, ok := st.barcodes[barcode]
		if !ok {
			return entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", barcode)
		}
		pkg := st.packages[id]
		pkg.Attributes = copyAttributes(pkg.Attributes)
		out = &pkg
		return nil
	})
	return out, err
}

// UpdatePackage replaces a stored package; the barcode never changes
func (s *Store) UpdatePackage(ctx context.Context, pkg *entities.Package) error {
	return s.view(ctx, func(st *state) error {
		existing, ok := st.packages[pkg.ID]
		if !ok {
			return entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", pkg.ID)
		}
		stored := *pkg
		stored.Barcode = existing.Barcode
		stored.Attributes = copyAttributes(pkg.Attributes)
		st.packages[pkg.ID] = stored
		return nil
	})
}

// ListPackagesBySource returns packages created for an operation, oldest first
func (s *Store) ListPackagesBySource(ctx context.Context, source entities.SourceOperation) ([]*entities.Package, error) {
	var out []*entities.Package
	err := s.view(ctx, func(st *state) error {
		for _, pkg := range st.packages {
			if pkg.Source == source {
				p := pkg
				p.Attributes = copyAttributes(pkg.Attributes)
				out = append(out, &p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Barcode < out[j].Barcode })
	return out, err
}

// NextBarcodeNumber advances the barcode sequence. The first number issued is start;
// later numbers follow the last issued one and never drop below start.
func (s *Store) NextBarcodeNumber(ctx context.Context, start int64) (int64, error) {
	var next int64
	err := s.view(ctx, func(st *state) error {
		next = start
		if st.barcodeIssued && st.barcodeSeq+1 > start {
			next = st.barcodeSeq + 1
		}
		st.barcodeSeq = next
		st.barcodeIssued = true
		return nil
	})
	return next, err
}

// GetContent returns a copy of a content row
func (s *Store) GetContent(ctx context.Context, id uuid.UUID) (*entities.PackageContent, error) {
	var out *entities.PackageContent
	err := s.view(ctx, func(st *state) error {
		c, ok := st.contents[id]
		if !ok {
			return entities.NewNotFoundError(entities.CodeContentNotFound, "content %s not found", id)
		}
		out = &c
		return nil
	})
	return out, err
}

// FindContent returns the content row of an item in a package, or nil
func (s *Store) FindContent(ctx context.Context, packageID uuid.UUID, itemCode entities.ItemCode) (*entities.PackageContent, error) {
	var out *entities.PackageContent
	err := s.view(ctx, func(st *state) error {
		for _, c := range st.contents {
			if c.PackageID == packageID && c.ItemCode == itemCode {
				found := c
				out = &found
				return nil
			}
		}
		return nil
	})
	return out, err
}

// ListContents returns the content rows of a package ordered by item
func (s *Store) ListContents(ctx context.Context, packageID uuid.UUID) ([]*entities.PackageContent, error) {
	var out []*entities.PackageContent
	err := s.view(ctx, func(st *state) error {
		for _, c := range st.contents {
			if c.PackageID == packageID {
				found := c
				out = append(out, &found)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ItemCode < out[j].ItemCode })
	return out, err
}

// SaveContent inserts or replaces a content row
func (s *Store) SaveContent(ctx context.Context, content *entities.PackageContent) error {
	return s.view(ctx, func(st *state) error {
		if _, ok := st.packages[content.PackageID]; !ok {
			return entities.NewNotFoundError(entities.CodePackageNotFound, "package %s not found", content.PackageID)
		}
		st.contents[content.ID] = *content
		return nil
	})
}

// DeleteContent removes a content row
func (s *Store) DeleteContent(ctx context.Context, id uuid.UUID) error {
	return s.view(ctx, func(st *state) error {
		delete(st.contents, id)
		return nil
	})
}
